package sheets

import (
	"context"
	"fmt"

	sheetsv4 "google.golang.org/api/sheets/v4"
)

const (
	SheetParticipants = "Participantes"
	SheetRace         = "Carrera"
)

func (c *Client) readAll(ctx context.Context, sheet string) ([][]interface{}, error) {
	resp, err := c.srv.Spreadsheets.Values.Get(c.spreadsheetID, sheet+"!A:Z").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (c *Client) clear(ctx context.Context, sheet string) error {
	_, err := c.srv.Spreadsheets.Values.Clear(c.spreadsheetID, sheet+"!A:Z", &sheetsv4.ClearValuesRequest{}).
		Context(ctx).
		Do()
	return err
}

func (c *Client) writeRows(ctx context.Context, sheet string, rows [][]interface{}) error {
	vr := &sheetsv4.ValueRange{Values: rows}
	_, err := c.srv.Spreadsheets.Values.Update(c.spreadsheetID, sheet+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

// ReadRows returns the sheet as strings, header included.
func (c *Client) ReadRows(ctx context.Context, sheet string) ([][]string, error) {
	values, err := c.readAll(ctx, sheet)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheet, err)
	}
	out := make([][]string, 0, len(values))
	for _, row := range values {
		line := make([]string, len(row))
		for i := range row {
			line[i] = get(row, i)
		}
		out = append(out, line)
	}
	return out, nil
}

func get(row []interface{}, idx int) string {
	if idx < 0 || idx >= len(row) || row[idx] == nil {
		return ""
	}
	return fmt.Sprint(row[idx])
}
