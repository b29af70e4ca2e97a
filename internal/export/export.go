// Package export renders the roster and the live race as CSV or XLSX.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"motoreg-bot/internal/models"
	"motoreg-bot/internal/util"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Table is one sheet. Quoted marks the free-text columns that CSV output
// always wraps in double quotes.
type Table struct {
	Sheet  string
	Header []string
	Quoted []bool
	Rows   [][]string
}

func Participants(ps []models.Participant) Table {
	t := Table{
		Sheet:  "Participantes",
		Header: []string{"ID", "Nombre Completo", "Numero Moto", "Categoria", "Telefono", "Residencia", "Fecha Registro", "Codigo Acceso"},
		Quoted: []bool{false, true, false, true, true, true, false, false},
	}
	for _, p := range ps {
		t.Rows = append(t.Rows, []string{
			p.ID,
			p.FullName,
			p.MotoNumber,
			string(p.Category),
			p.Phone,
			p.Residence,
			p.RegistrationDate.UTC().Format(time.RFC3339),
			p.AccessCode,
		})
	}
	return t
}

// Race lists the checked-in riders; times are shown in loc (time.Local when
// nil).
func Race(lines []models.RosterLine, loc *time.Location) Table {
	if loc == nil {
		loc = time.Local
	}
	t := Table{
		Sheet:  "Carrera",
		Header: []string{"Numero Moto", "Piloto", "Categoria", "Hora Registro"},
		Quoted: []bool{false, true, true, false},
	}
	for _, l := range lines {
		t.Rows = append(t.Rows, []string{
			l.Participant.MotoNumber,
			l.Participant.FullName,
			string(l.Participant.Category),
			l.CheckInTime.In(loc).Format("15:04:05"),
		})
	}
	return t
}

func ParticipantsFilename(f Format) string {
	return "base_datos_cie_2026." + string(f)
}

func RaceFilename(raceName string, f Format) string {
	return "registro_transponder_" + util.Slug(raceName) + "." + string(f)
}

func Write(w io.Writer, t Table, f Format) error {
	if f == FormatXLSX {
		return WriteXLSX(w, t)
	}
	return WriteCSV(w, t)
}

func WriteCSV(w io.Writer, t Table) error {
	var b strings.Builder
	b.WriteString(strings.Join(t.Header, ","))
	for _, row := range t.Rows {
		b.WriteString("\n")
		for i, v := range row {
			if i > 0 {
				b.WriteString(",")
			}
			if i < len(t.Quoted) && t.Quoted[i] {
				b.WriteString(quoteCSV(v))
			} else {
				b.WriteString(escapeCSV(v))
			}
		}
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func quoteCSV(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func escapeCSV(s string) string {
	if strings.ContainsAny(s, ",\"\n\r") {
		return quoteCSV(s)
	}
	return s
}

func WriteXLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", t.Sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(t.Sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for r, row := range t.Rows {
		cells := make([]any, len(row))
		for i, v := range row {
			cells[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(t.Sheet, cell, &cells); err != nil {
			return fmt.Errorf("write row %d: %w", r+2, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
