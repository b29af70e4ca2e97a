package models

import "time"

// Category is one of the fixed competition classes.
type Category string

const (
	CatExpertos      Category = "Expertos"
	CatExpertos30    Category = "30 Expertos"
	CatAvanzados     Category = "Avanzados"
	CatExpertos40    Category = "40 Expertos"
	CatIntermedios   Category = "Intermedios"
	CatClase30       Category = "Clase 30"
	CatClase40       Category = "Clase 40"
	CatClase50       Category = "Clase 50"
	CatNovatos       Category = "Novatos"
	CatPromocionales Category = "Promocionales"
	CatFemenil       Category = "Femenil"
	Cat85cc          Category = "85cc"
	Cat65cc          Category = "65cc"
	Cat50cc          Category = "50cc"
)

// Categories is the display and sort order of every category.
var Categories = []Category{
	CatExpertos,
	CatExpertos30,
	CatAvanzados,
	CatExpertos40,
	CatIntermedios,
	CatClase30,
	CatClase40,
	CatClase50,
	CatNovatos,
	CatPromocionales,
	CatFemenil,
	Cat85cc,
	Cat65cc,
	Cat50cc,
}

type Participant struct {
	ID               string    `json:"id"`
	FullName         string    `json:"fullName"`
	MotoNumber       string    `json:"motoNumber"`
	Category         Category  `json:"category"`
	Phone            string    `json:"phone"`
	Residence        string    `json:"residence"`
	RegistrationDate time.Time `json:"registrationDate"`
	AccessCode       string    `json:"accessCode"`
	TgID             int64     `json:"tgId,omitempty"` // 0 when registered outside Telegram
}

type TransponderEntry struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId"`
	Timestamp     time.Time `json:"timestamp"`
}

// State is everything the event keeps. Participants and Entries are
// most-recent-first.
type State struct {
	Participants     []Participant      `json:"participants"`
	Entries          []TransponderEntry `json:"entries"`
	RegistrationOpen bool               `json:"registrationOpen"`
	RaceName         string             `json:"raceName"`
}

func (s State) Clone() State {
	out := s
	out.Participants = append([]Participant(nil), s.Participants...)
	out.Entries = append([]TransponderEntry(nil), s.Entries...)
	return out
}

// RosterLine is a participant joined with its check-in for the current race.
type RosterLine struct {
	Participant Participant `json:"participant"`
	EntryID     string      `json:"entryId"`
	CheckInTime time.Time   `json:"checkInTime"`
}

type RegistrationStats struct {
	Total            int              `json:"total"`
	ByCategory       map[Category]int `json:"byCategory"`
	CheckedIn        int              `json:"checkedIn"`
	Orphans          int              `json:"orphans"`
	CodeCollisions   int              `json:"codeCollisions"`
	RaceName         string           `json:"raceName"`
	RegistrationOpen bool             `json:"registrationOpen"`
}
