// Package store keeps the event state in memory and writes every logical
// operation through to a Persister as one atomic batch of changes.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"motoreg-bot/internal/logging"
	"motoreg-bot/internal/metrics"
	"motoreg-bot/internal/models"
)

const DefaultRaceName = "Carrera General"

type ChangeKind string

const (
	ParticipantAdded   ChangeKind = "participant_added"
	ParticipantDeleted ChangeKind = "participant_deleted"
	EntryAdded         ChangeKind = "entry_added"
	EntryDeleted       ChangeKind = "entry_deleted"
	EntriesCleared     ChangeKind = "entries_cleared"
	SettingChanged     ChangeKind = "setting_changed"
	StateReset         ChangeKind = "state_reset"
)

const (
	SettingRegistrationOpen = "registration_open"
	SettingRaceName         = "race_name"
)

// Change is one recorded mutation. Only the fields relevant to Kind are set.
type Change struct {
	Kind        ChangeKind
	Participant *models.Participant
	Entry       *models.TransponderEntry
	ID          string
	Key         string
	Value       string
}

// Persister stores the state durably. Apply must write all changes of one
// operation or none of them.
type Persister interface {
	Load(ctx context.Context) (models.State, error)
	Apply(ctx context.Context, changes []Change) error
	Close() error
}

type Store struct {
	mu        sync.RWMutex
	state     models.State
	persister Persister
}

// New loads the persisted state. A nil persister gives a memory-only store.
// An empty race name is replaced by defaultRaceName (or DefaultRaceName).
func New(ctx context.Context, p Persister, defaultRaceName string) (*Store, error) {
	st := models.State{RegistrationOpen: true}
	if p != nil {
		loaded, err := p.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		st = loaded
	}
	if strings.TrimSpace(st.RaceName) == "" {
		st.RaceName = defaultRaceName
		if st.RaceName == "" {
			st.RaceName = DefaultRaceName
		}
	}
	logging.For("store").WithFields(map[string]any{
		"participants": len(st.Participants),
		"entries":      len(st.Entries),
		"race":         st.RaceName,
	}).Info("state loaded")
	return &Store{state: st, persister: p}, nil
}

// NewMemory returns a store seeded with st and no persistence.
func NewMemory(st models.State) *Store {
	if st.RaceName == "" {
		st.RaceName = DefaultRaceName
	}
	return &Store{state: st.Clone()}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() models.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Update runs fn against a private copy of the state. When fn succeeds and
// recorded changes, they are persisted and only then become visible.
func (s *Store) Update(ctx context.Context, op string, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	tx := &Tx{state: s.state.Clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.changes) == 0 {
		return nil
	}
	if s.persister != nil {
		if err := s.persister.Apply(ctx, tx.changes); err != nil {
			logging.For("store").WithError(err).WithField("op", op).Error("persist failed")
			return fmt.Errorf("persist %s: %w", op, err)
		}
	}
	s.state = tx.state
	metrics.RecordStoreOperation(op, start)
	return nil
}

func (s *Store) Close() error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Close()
}

// Tx is the mutable view handed to Update callbacks.
type Tx struct {
	state   models.State
	changes []Change
}

// State is the in-progress state. Callers must not modify the slices.
func (tx *Tx) State() models.State { return tx.state }

func (tx *Tx) record(c Change) { tx.changes = append(tx.changes, c) }

func (tx *Tx) AddParticipant(p models.Participant) {
	tx.state.Participants = append([]models.Participant{p}, tx.state.Participants...)
	tx.record(Change{Kind: ParticipantAdded, Participant: &p})
}

func (tx *Tx) DeleteParticipant(id string) bool {
	for i, p := range tx.state.Participants {
		if p.ID == id {
			tx.state.Participants = append(tx.state.Participants[:i:i], tx.state.Participants[i+1:]...)
			tx.record(Change{Kind: ParticipantDeleted, ID: id})
			return true
		}
	}
	return false
}

func (tx *Tx) AddEntry(e models.TransponderEntry) {
	tx.state.Entries = append([]models.TransponderEntry{e}, tx.state.Entries...)
	tx.record(Change{Kind: EntryAdded, Entry: &e})
}

func (tx *Tx) DeleteEntry(id string) bool {
	for i, e := range tx.state.Entries {
		if e.ID == id {
			tx.state.Entries = append(tx.state.Entries[:i:i], tx.state.Entries[i+1:]...)
			tx.record(Change{Kind: EntryDeleted, ID: id})
			return true
		}
	}
	return false
}

func (tx *Tx) ClearEntries() {
	tx.state.Entries = nil
	tx.record(Change{Kind: EntriesCleared})
}

func (tx *Tx) SetRaceName(name string) {
	tx.state.RaceName = name
	tx.record(Change{Kind: SettingChanged, Key: SettingRaceName, Value: name})
}

func (tx *Tx) SetRegistrationOpen(open bool) {
	tx.state.RegistrationOpen = open
	v := "false"
	if open {
		v = "true"
	}
	tx.record(Change{Kind: SettingChanged, Key: SettingRegistrationOpen, Value: v})
}

// Replace swaps the whole state, e.g. for an import.
func (tx *Tx) Replace(st models.State) {
	tx.state = models.State{RegistrationOpen: st.RegistrationOpen, RaceName: st.RaceName}
	tx.record(Change{Kind: StateReset})
	for i := len(st.Participants) - 1; i >= 0; i-- {
		tx.AddParticipant(st.Participants[i])
	}
	for i := len(st.Entries) - 1; i >= 0; i-- {
		tx.AddEntry(st.Entries[i])
	}
	tx.SetRegistrationOpen(st.RegistrationOpen)
	tx.SetRaceName(st.RaceName)
}
