package race

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"motoreg-bot/internal/models"
)

type SortMode int

const (
	// SortByName orders by category, then name, then number.
	SortByName SortMode = iota
	// SortByNumber orders by category, then the numeric part of the number.
	SortByNumber
	// SortByRecency keeps most-recent-first order.
	SortByRecency
)

// ParseSortMode accepts "name", "number" and "recent" (Spanish aliases too);
// anything else is SortByName.
func ParseSortMode(s string) SortMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "number", "numero", "número":
		return SortByNumber
	case "recent", "recency", "reciente":
		return SortByRecency
	default:
		return SortByName
	}
}

func newCollator() *collate.Collator {
	return collate.New(language.Spanish, collate.IgnoreCase, collate.IgnoreDiacritics)
}

// participantLess builds the comparison for mode. It returns nil for
// SortByRecency, meaning "keep input order".
func participantLess(mode SortMode) func(a, b models.Participant) bool {
	if mode == SortByRecency {
		return nil
	}
	coll := newCollator()
	return func(a, b models.Participant) bool {
		if ia, ib := CategoryIndex(a.Category), CategoryIndex(b.Category); ia != ib {
			return ia < ib
		}
		if mode == SortByNumber {
			if na, nb := numericPart(a.MotoNumber), numericPart(b.MotoNumber); na != nb {
				return na < nb
			}
		}
		if c := coll.CompareString(a.FullName, b.FullName); c != 0 {
			return c < 0
		}
		return numericPart(a.MotoNumber) < numericPart(b.MotoNumber)
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(fold(haystack), needle)
}

// Search filters ps by a case-insensitive substring of name, number or
// category, optionally restricted to one category, and sorts by mode. An
// empty query matches everyone.
func Search(ps []models.Participant, query string, category models.Category, mode SortMode) []models.Participant {
	q := fold(query)
	out := make([]models.Participant, 0, len(ps))
	for _, p := range ps {
		if category != "" && p.Category != category {
			continue
		}
		if q != "" && !containsFold(p.FullName, q) && !containsFold(p.MotoNumber, q) && !containsFold(string(p.Category), q) {
			continue
		}
		out = append(out, p)
	}
	if less := participantLess(mode); less != nil {
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}

// EntryFor returns the session entry of participantID, if any.
func EntryFor(entries []models.TransponderEntry, participantID string) (models.TransponderEntry, bool) {
	for _, e := range entries {
		if e.ParticipantID == participantID {
			return e, true
		}
	}
	return models.TransponderEntry{}, false
}

// ListForSession joins entries with their participants. Entries whose
// participant was deleted are left out.
func ListForSession(st models.State, mode SortMode) []models.RosterLine {
	byID := make(map[string]models.Participant, len(st.Participants))
	for _, p := range st.Participants {
		byID[p.ID] = p
	}
	lines := make([]models.RosterLine, 0, len(st.Entries))
	for _, e := range st.Entries {
		p, ok := byID[e.ParticipantID]
		if !ok {
			continue
		}
		lines = append(lines, models.RosterLine{Participant: p, EntryID: e.ID, CheckInTime: e.Timestamp})
	}
	if mode == SortByRecency {
		sort.SliceStable(lines, func(i, j int) bool { return lines[i].CheckInTime.After(lines[j].CheckInTime) })
		return lines
	}
	less := participantLess(mode)
	sort.SliceStable(lines, func(i, j int) bool { return less(lines[i].Participant, lines[j].Participant) })
	return lines
}

// FilterSession keeps the lines whose name, number or category contains
// query. An empty query keeps everything.
func FilterSession(lines []models.RosterLine, query string) []models.RosterLine {
	q := fold(query)
	if q == "" {
		return lines
	}
	out := make([]models.RosterLine, 0, len(lines))
	for _, l := range lines {
		p := l.Participant
		if containsFold(p.FullName, q) || containsFold(p.MotoNumber, q) || containsFold(string(p.Category), q) {
			out = append(out, l)
		}
	}
	return out
}

// OrphanCount is the number of entries pointing at no participant.
func OrphanCount(st models.State) int {
	ids := make(map[string]struct{}, len(st.Participants))
	for _, p := range st.Participants {
		ids[p.ID] = struct{}{}
	}
	n := 0
	for _, e := range st.Entries {
		if _, ok := ids[e.ParticipantID]; !ok {
			n++
		}
	}
	return n
}

// CodeCollisions counts access codes held by more than one participant.
func CodeCollisions(ps []models.Participant) int {
	counts := make(map[string]int, len(ps))
	for _, p := range ps {
		counts[p.AccessCode]++
	}
	n := 0
	for _, c := range counts {
		if c > 1 {
			n++
		}
	}
	return n
}

func Stats(st models.State) models.RegistrationStats {
	stats := models.RegistrationStats{
		Total:            len(st.Participants),
		ByCategory:       make(map[models.Category]int),
		Orphans:          OrphanCount(st),
		CodeCollisions:   CodeCollisions(st.Participants),
		RaceName:         st.RaceName,
		RegistrationOpen: st.RegistrationOpen,
	}
	for _, p := range st.Participants {
		stats.ByCategory[p.Category]++
	}
	checked := make(map[string]struct{}, len(st.Entries))
	for _, l := range ListForSession(st, SortByRecency) {
		checked[l.Participant.ID] = struct{}{}
	}
	stats.CheckedIn = len(checked)
	return stats
}

// PublicLine is what anyone may see about a participant.
type PublicLine struct {
	FullName   string          `json:"fullName"`
	MotoNumber string          `json:"motoNumber"`
	Category   models.Category `json:"category"`
	Residence  string          `json:"residence"`
	CheckedIn  bool            `json:"checkedIn"`
}

// PublicRoster filters by name or number substring and category. Checked-in
// riders come first, then category order, then number.
func PublicRoster(st models.State, query string, category models.Category) []PublicLine {
	checked := make(map[string]struct{}, len(st.Entries))
	for _, e := range st.Entries {
		checked[e.ParticipantID] = struct{}{}
	}
	q := fold(query)
	out := make([]PublicLine, 0, len(st.Participants))
	for _, p := range st.Participants {
		if category != "" && p.Category != category {
			continue
		}
		if q != "" && !containsFold(p.FullName, q) && !containsFold(p.MotoNumber, q) {
			continue
		}
		_, in := checked[p.ID]
		out = append(out, PublicLine{
			FullName:   p.FullName,
			MotoNumber: p.MotoNumber,
			Category:   p.Category,
			Residence:  p.Residence,
			CheckedIn:  in,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CheckedIn != b.CheckedIn {
			return a.CheckedIn
		}
		if ia, ib := CategoryIndex(a.Category), CategoryIndex(b.Category); ia != ib {
			return ia < ib
		}
		if na, nb := numericPart(a.MotoNumber), numericPart(b.MotoNumber); na != nb {
			return na < nb
		}
		return a.MotoNumber < b.MotoNumber
	})
	return out
}
