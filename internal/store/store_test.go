package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motoreg-bot/internal/models"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func participant(id, number string, at time.Time) models.Participant {
	return models.Participant{
		ID:               id,
		FullName:         "Piloto " + id,
		MotoNumber:       number,
		Category:         models.CatNovatos,
		Phone:            "555",
		Residence:        "Tijuana",
		RegistrationDate: at,
		AccessCode:       "1234",
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, openTestDB(t), "")
	require.NoError(t, err)

	st := s.Snapshot()
	assert.Empty(t, st.Participants)
	assert.Empty(t, st.Entries)
	assert.True(t, st.RegistrationOpen)
	assert.Equal(t, DefaultRaceName, st.RaceName)

	s, err = New(ctx, nil, "Fecha 1")
	require.NoError(t, err)
	assert.Equal(t, "Fecha 1", s.Snapshot().RaceName)
}

func TestUpdatePersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, err := New(ctx, db, "")
	require.NoError(t, err)

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err = s.Update(ctx, "register", func(tx *Tx) error {
		tx.AddParticipant(participant("a", "800", t0))
		return nil
	})
	require.NoError(t, err)
	err = s.Update(ctx, "register", func(tx *Tx) error {
		tx.AddParticipant(participant("b", "801", t0.Add(time.Minute)))
		return nil
	})
	require.NoError(t, err)
	err = s.Update(ctx, "check_in", func(tx *Tx) error {
		tx.AddEntry(models.TransponderEntry{ID: "e1", ParticipantID: "a", Timestamp: t0.Add(time.Hour)})
		tx.SetRegistrationOpen(false)
		tx.SetRaceName("Fecha 2")
		return nil
	})
	require.NoError(t, err)

	reloaded, err := New(ctx, db, "")
	require.NoError(t, err)
	st := reloaded.Snapshot()
	require.Len(t, st.Participants, 2)
	assert.Equal(t, "b", st.Participants[0].ID, "most recent first")
	assert.Equal(t, "a", st.Participants[1].ID)
	require.Len(t, st.Entries, 1)
	assert.Equal(t, "a", st.Entries[0].ParticipantID)
	assert.False(t, st.RegistrationOpen)
	assert.Equal(t, "Fecha 2", st.RaceName)
}

func TestUpdateErrorLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(models.State{RegistrationOpen: true})

	boom := errors.New("boom")
	err := s.Update(ctx, "register", func(tx *Tx) error {
		tx.AddParticipant(participant("a", "800", time.Now()))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.Snapshot().Participants)
}

func TestPersistFailureLeavesMemoryUntouched(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, err := New(ctx, db, "")
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.Update(ctx, "register", func(tx *Tx) error {
		tx.AddParticipant(participant("a", "800", now))
		return nil
	}))

	// a second row with the same number violates the unique index; the
	// entry recorded in the same batch must not survive either
	err = s.Update(ctx, "register", func(tx *Tx) error {
		tx.AddEntry(models.TransponderEntry{ID: "e1", ParticipantID: "a", Timestamp: now})
		tx.AddParticipant(participant("b", "800", now))
		return nil
	})
	require.Error(t, err)

	st := s.Snapshot()
	assert.Len(t, st.Participants, 1)
	assert.Empty(t, st.Entries)

	reloaded, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, reloaded.Participants, 1)
	assert.Empty(t, reloaded.Entries)
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, err := New(ctx, db, "")
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.Update(ctx, "seed", func(tx *Tx) error {
		tx.AddParticipant(participant("a", "800", now))
		tx.AddEntry(models.TransponderEntry{ID: "e1", ParticipantID: "a", Timestamp: now})
		tx.AddEntry(models.TransponderEntry{ID: "e2", ParticipantID: "gone", Timestamp: now})
		return nil
	}))

	var found bool
	require.NoError(t, s.Update(ctx, "delete", func(tx *Tx) error {
		found = tx.DeleteParticipant("a")
		return nil
	}))
	assert.True(t, found)

	st, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Participants)
	assert.Len(t, st.Entries, 2, "entries survive participant deletion")

	require.NoError(t, s.Update(ctx, "delete", func(tx *Tx) error {
		found = tx.DeleteEntry("missing")
		return nil
	}))
	assert.False(t, found)

	require.NoError(t, s.Update(ctx, "start_race", func(tx *Tx) error {
		tx.ClearEntries()
		return nil
	}))
	st, err = db.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Entries)
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, err := New(ctx, db, "")
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, s.Update(ctx, "seed", func(tx *Tx) error {
		tx.AddParticipant(participant("old", "900", now))
		return nil
	}))

	imported := models.State{
		Participants: []models.Participant{
			participant("new2", "801", now.Add(time.Minute)),
			participant("new1", "800", now),
		},
		Entries:          []models.TransponderEntry{{ID: "e", ParticipantID: "new1", Timestamp: now}},
		RegistrationOpen: false,
		RaceName:         "Importada",
	}
	require.NoError(t, s.Update(ctx, "import", func(tx *Tx) error {
		tx.Replace(imported)
		return nil
	}))

	mem := s.Snapshot()
	assert.Equal(t, []string{"new2", "new1"}, []string{mem.Participants[0].ID, mem.Participants[1].ID})

	st, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, st.Participants, 2)
	assert.Equal(t, "new2", st.Participants[0].ID)
	assert.Len(t, st.Entries, 1)
	assert.False(t, st.RegistrationOpen)
	assert.Equal(t, "Importada", st.RaceName)
}

func TestMalformedSettingDefaultsOpen(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, db.Apply(ctx, []Change{{Kind: SettingChanged, Key: SettingRegistrationOpen, Value: "quizas"}}))

	st, err := db.Load(ctx)
	require.NoError(t, err)
	assert.True(t, st.RegistrationOpen)
}
