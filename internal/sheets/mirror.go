package sheets

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"motoreg-bot/internal/export"
	"motoreg-bot/internal/logging"
	"motoreg-bot/internal/models"
	"motoreg-bot/internal/race"
)

// WriteTable replaces the content of the table's sheet.
func (c *Client) WriteTable(ctx context.Context, t export.Table) error {
	rows := make([][]interface{}, 0, len(t.Rows)+1)
	header := make([]interface{}, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	rows = append(rows, header)
	for _, r := range t.Rows {
		row := make([]interface{}, len(r))
		for i, v := range r {
			row[i] = v
		}
		rows = append(rows, row)
	}
	if err := c.clear(ctx, t.Sheet); err != nil {
		return fmt.Errorf("clear %s: %w", t.Sheet, err)
	}
	if err := c.writeRows(ctx, t.Sheet, rows); err != nil {
		return fmt.Errorf("write %s: %w", t.Sheet, err)
	}
	return nil
}

// Sync writes the full roster and the current race.
func (c *Client) Sync(ctx context.Context, st models.State) error {
	if err := c.WriteTable(ctx, export.Participants(st.Participants)); err != nil {
		return err
	}
	return c.WriteTable(ctx, export.Race(race.ListForSession(st, race.SortByRecency), nil))
}

// Mirror keeps the spreadsheet in step with the store by polling.
type Mirror struct {
	client   *Client
	snapshot func() models.State
	interval time.Duration
	last     [sha256.Size]byte
}

func NewMirror(client *Client, snapshot func() models.State, interval time.Duration) *Mirror {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Mirror{client: client, snapshot: snapshot, interval: interval}
}

// SyncIfChanged pushes the state when it differs from the last push.
func (m *Mirror) SyncIfChanged(ctx context.Context) (bool, error) {
	st := m.snapshot()
	b, err := json.Marshal(st)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(b)
	if sum == m.last {
		return false, nil
	}
	if err := m.client.Sync(ctx, st); err != nil {
		return false, err
	}
	m.last = sum
	return true, nil
}

// Run syncs every interval until ctx is done. Failures are logged and
// retried on the next tick.
func (m *Mirror) Run(ctx context.Context) error {
	log := logging.For("sheets")
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		if synced, err := m.SyncIfChanged(ctx); err != nil {
			log.WithError(err).Warn("mirror sync failed")
		} else if synced {
			log.Debug("mirror synced")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
