// Package legacy reads the browser-storage dump of the old single-page
// registration app: a JSON object whose four keys hold JSON-encoded values.
package legacy

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"motoreg-bot/internal/logging"
	"motoreg-bot/internal/models"
	"motoreg-bot/internal/race"
	"motoreg-bot/internal/store"
)

const (
	KeyParticipants = "motoReg_participants"
	KeyStatus       = "motoReg_status"
	KeyTransponders = "motoReg_transponders"
	KeyRaceName     = "motoReg_raceName"
)

// Result is the decoded state plus everything that was skipped or defaulted.
type Result struct {
	State    models.State
	Warnings []string
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Read decodes a dump. Only a dump that is not a JSON object is an error;
// a missing or malformed key falls back to its default (empty lists,
// registration open, the default race name).
func Read(r io.Reader) (Result, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Result{}, fmt.Errorf("decode legacy dump: %w", err)
	}

	res := Result{State: models.State{RegistrationOpen: true, RaceName: store.DefaultRaceName}}

	var ps []models.Participant
	if ok := decodeKey(raw, KeyParticipants, &ps, &res); ok {
		res.State.Participants = cleanParticipants(ps, &res)
	}
	var es []models.TransponderEntry
	if ok := decodeKey(raw, KeyTransponders, &es, &res); ok {
		res.State.Entries = cleanEntries(es, &res)
	}
	var open bool
	if ok := decodeKey(raw, KeyStatus, &open, &res); ok {
		res.State.RegistrationOpen = open
	}
	var name string
	if ok := decodeKey(raw, KeyRaceName, &name, &res); ok && strings.TrimSpace(name) != "" {
		res.State.RaceName = strings.TrimSpace(name)
	}

	log := logging.For("legacy")
	for _, w := range res.Warnings {
		log.Warn(w)
	}
	log.WithField("participants", len(res.State.Participants)).
		WithField("entries", len(res.State.Entries)).
		Info("legacy dump decoded")
	return res, nil
}

// decodeKey accepts the value either as stored by the browser (a JSON
// string holding JSON) or already unwrapped.
func decodeKey(raw map[string]json.RawMessage, key string, dst any, res *Result) bool {
	msg, ok := raw[key]
	if !ok || len(msg) == 0 || string(msg) == "null" {
		return false
	}
	var inner string
	if err := json.Unmarshal(msg, &inner); err == nil {
		if json.Unmarshal([]byte(inner), dst) == nil {
			return true
		}
	}
	if err := json.Unmarshal(msg, dst); err != nil {
		res.warnf("%s: malformed value, using default (%v)", key, err)
		return false
	}
	return true
}

// cleanParticipants normalizes numbers and drops records the store would
// reject. The list is most-recent-first, so the newest holder of a
// duplicated number is kept.
func cleanParticipants(ps []models.Participant, res *Result) []models.Participant {
	out := make([]models.Participant, 0, len(ps))
	seenNumbers := make(map[string]struct{}, len(ps))
	seenIDs := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		p.MotoNumber = race.NormalizeNumber(p.MotoNumber)
		if p.MotoNumber == "" || strings.TrimSpace(p.FullName) == "" {
			res.warnf("participant %q skipped: missing name or number", p.ID)
			continue
		}
		if cat, err := race.ParseCategory(string(p.Category)); err == nil {
			p.Category = cat
		} else {
			res.warnf("participant %q has unknown category %q", p.ID, p.Category)
		}
		if _, dup := seenNumbers[p.MotoNumber]; dup {
			res.warnf("participant %q skipped: number %s already imported", p.ID, p.MotoNumber)
			continue
		}
		if _, dup := seenIDs[p.ID]; p.ID == "" || dup {
			p.ID = uuid.NewString()
		}
		seenNumbers[p.MotoNumber] = struct{}{}
		seenIDs[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// cleanEntries keeps one entry per participant, the newest by timestamp.
func cleanEntries(es []models.TransponderEntry, res *Result) []models.TransponderEntry {
	newest := make(map[string]int, len(es))
	for i, e := range es {
		if e.ParticipantID == "" {
			continue
		}
		if j, ok := newest[e.ParticipantID]; !ok || e.Timestamp.After(es[j].Timestamp) {
			newest[e.ParticipantID] = i
		}
	}

	out := make([]models.TransponderEntry, 0, len(newest))
	seen := make(map[string]struct{}, len(es))
	for i, e := range es {
		if e.ParticipantID == "" {
			res.warnf("entry %q skipped: no participant", e.ID)
			continue
		}
		if newest[e.ParticipantID] != i {
			res.warnf("entry %q skipped: participant %q already checked in", e.ID, e.ParticipantID)
			continue
		}
		if _, dup := seen[e.ID]; e.ID == "" || dup {
			e.ID = uuid.NewString()
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}
