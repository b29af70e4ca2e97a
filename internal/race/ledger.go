package race

import (
	"context"

	"github.com/sirupsen/logrus"

	"motoreg-bot/internal/metrics"
	"motoreg-bot/internal/models"
	"motoreg-bot/internal/store"
)

// CheckIn records the participant for the current race. A participant
// already checked in gets the existing entry back with created=false.
func (s *Service) CheckIn(ctx context.Context, participantID string) (models.TransponderEntry, bool, error) {
	var (
		entry   models.TransponderEntry
		created bool
	)
	err := s.st.Update(ctx, "check_in", func(tx *store.Tx) error {
		st := tx.State()
		if _, ok := findByID(st.Participants, participantID); !ok {
			return ErrNotFound
		}
		if e, ok := EntryFor(st.Entries, participantID); ok {
			entry = e
			return nil
		}
		entry = models.TransponderEntry{
			ID:            s.opts.NewID(),
			ParticipantID: participantID,
			Timestamp:     s.opts.Now(),
		}
		created = true
		tx.AddEntry(entry)
		return nil
	})
	if err != nil {
		return models.TransponderEntry{}, false, err
	}
	outcome := "existing"
	if created {
		outcome = "created"
	}
	metrics.CheckIns.WithLabelValues(outcome).Inc()
	s.log.WithFields(logrus.Fields{"participant": participantID, "created": created}).Info("check-in")
	return entry, created, nil
}

// IsCheckedIn reports whether participantID has an entry in this race.
func (s *Service) IsCheckedIn(participantID string) (models.TransponderEntry, bool) {
	return EntryFor(s.st.Snapshot().Entries, participantID)
}

// RemoveEntry deletes one check-in. The participant is untouched.
func (s *Service) RemoveEntry(ctx context.Context, entryID string) error {
	return s.st.Update(ctx, "remove_entry", func(tx *store.Tx) error {
		if !tx.DeleteEntry(entryID) {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Service) ListForSession(mode SortMode) []models.RosterLine {
	return ListForSession(s.st.Snapshot(), mode)
}

// SearchSession is ListForSession narrowed by FilterSession.
func (s *Service) SearchSession(query string, mode SortMode) []models.RosterLine {
	return FilterSession(ListForSession(s.st.Snapshot(), mode), query)
}

func (s *Service) OrphanCount() int { return OrphanCount(s.st.Snapshot()) }
