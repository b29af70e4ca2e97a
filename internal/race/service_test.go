package race

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motoreg-bot/internal/models"
	"motoreg-bot/internal/store"
)

var t0 = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	st    *store.Store
	codes []string
}

func newFixture(t *testing.T, opts Options, codes ...string) *fixture {
	t.Helper()
	f := &fixture{st: store.NewMemory(models.State{RegistrationOpen: true}), codes: codes}
	ids, ticks, drawn := 0, 0, 0
	opts.NewID = func() string { ids++; return fmt.Sprintf("id-%d", ids) }
	opts.Now = func() time.Time { ticks++; return t0.Add(time.Duration(ticks) * time.Minute) }
	opts.NewAccessCode = func() string {
		if len(f.codes) == 0 {
			return "1234"
		}
		c := f.codes[drawn%len(f.codes)]
		drawn++
		return c
	}
	f.svc = NewService(f.st, opts)
	return f
}

func (f *fixture) register(t *testing.T, name, number string, cat models.Category) models.Participant {
	t.Helper()
	p, err := f.svc.Register(context.Background(), Candidate{
		FullName:   name,
		MotoNumber: number,
		Category:   string(cat),
		Phone:      "664-123-4567",
		Residence:  "Ensenada",
	})
	require.NoError(t, err)
	return p
}

func TestRegisterAnaRuiz(t *testing.T) {
	f := newFixture(t, Options{}, "4821")
	before := f.svc.AvailableNumbers(models.Cat50cc)
	require.Contains(t, before, "I01")

	p := f.register(t, "Ana Ruiz", "i01", models.Cat50cc)

	assert.Equal(t, "I01", p.MotoNumber)
	assert.Equal(t, models.Cat50cc, p.Category)
	assert.Equal(t, "4821", p.AccessCode)
	assert.Equal(t, "id-1", p.ID)

	after := f.svc.AvailableNumbers(models.Cat50cc)
	assert.NotContains(t, after, "I01")
	assert.Len(t, after, len(before)-1, "exactly one number consumed")
	assert.NotContains(t, f.svc.AvailableNumbers(models.Cat65cc), "I01")

	got, err := f.svc.FindByAccessCode("4821")
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestRandomAccessCodeRange(t *testing.T) {
	for i := 0; i < 500; i++ {
		c := RandomAccessCode()
		require.Len(t, c, 4)
		require.GreaterOrEqual(t, c, "1000")
		require.LessOrEqual(t, c, "9999")
	}
}

func TestRegisterRejectsTakenNumber(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, "Ana Ruiz", "I01", models.Cat50cc)

	_, err := f.svc.Register(context.Background(), Candidate{
		FullName: "Luis Soto", MotoNumber: "i01", Category: "65cc", Phone: "1", Residence: "Tecate",
	})
	assert.ErrorIs(t, err, ErrNumberTaken)

	_, err = f.svc.Register(context.Background(), Candidate{
		FullName: "Luis Soto", MotoNumber: "F01", Category: "Novatos", Phone: "1", Residence: "Tecate",
	})
	assert.ErrorIs(t, err, ErrNumberTaken, "number outside the category range")
	assert.Len(t, f.svc.Snapshot().Participants, 1)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Register(context.Background(), Candidate{
		FullName: "   ", MotoNumber: "800", Category: "Novatos", Phone: "", Residence: "Rosarito",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, map[string]string{"fullName": "required", "phone": "required"}, verr.Fields)
	assert.Contains(t, verr.Error(), "fullName: required")

	_, err = f.svc.Register(context.Background(), Candidate{
		FullName: "Ana", MotoNumber: "800", Category: "Sidecar", Phone: "1", Residence: "Rosarito",
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "category", verr.Fields["category"])

	_, err = f.svc.Register(context.Background(), Candidate{
		FullName: "Ana", Category: "Novatos", Phone: "1", Residence: "Rosarito",
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "required", verr.Fields["motoNumber"])

	assert.Empty(t, f.svc.Snapshot().Participants)
}

func TestRegistrationGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	open, err := f.svc.ToggleRegistration(ctx)
	require.NoError(t, err)
	assert.False(t, open)
	assert.False(t, f.svc.RegistrationOpen())

	_, err = f.svc.Register(ctx, Candidate{FullName: "Ana", MotoNumber: "800", Category: "Novatos", Phone: "1", Residence: "X"})
	assert.ErrorIs(t, err, ErrRegistrationClosed)

	open, err = f.svc.ToggleRegistration(ctx)
	require.NoError(t, err)
	assert.True(t, open)
	f.register(t, "Ana", "800", models.CatNovatos)
}

func TestNumbersGloballyUnique(t *testing.T) {
	f := newFixture(t, Options{})
	numbers := []struct {
		number string
		cat    models.Category
	}{
		{"01", models.CatExpertos}, {"F01", models.CatFemenil}, {"I01", models.Cat65cc},
		{"J01", models.Cat85cc}, {"800", models.CatNovatos}, {"1000", models.CatPromocionales},
	}
	for i, n := range numbers {
		f.register(t, fmt.Sprintf("Piloto %d", i), n.number, n.cat)
	}
	seen := map[string]bool{}
	for _, p := range f.svc.Snapshot().Participants {
		assert.False(t, seen[p.MotoNumber], "duplicate %s", p.MotoNumber)
		seen[p.MotoNumber] = true
	}
}

func TestCheckInTwiceWithCode4821(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, "4821")
	f.register(t, "Ana Ruiz", "I01", models.Cat50cc)

	p, err := f.svc.FindByAccessCode("4821")
	require.NoError(t, err)

	first, created, err := f.svc.CheckIn(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.svc.CheckIn(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)
	assert.Len(t, f.svc.Snapshot().Entries, 1)

	e, ok := f.svc.IsCheckedIn(p.ID)
	assert.True(t, ok)
	assert.Equal(t, first.ID, e.ID)
}

func TestCheckInUnknownParticipant(t *testing.T) {
	f := newFixture(t, Options{})
	_, _, err := f.svc.CheckIn(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.FindByAccessCode("0000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartRaceFecha2(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	for i := 0; i < 5; i++ {
		p := f.register(t, fmt.Sprintf("Piloto %d", i), fmt.Sprint(800+i), models.CatNovatos)
		_, _, err := f.svc.CheckIn(ctx, p.ID)
		require.NoError(t, err)
	}
	require.Len(t, f.svc.Snapshot().Entries, 5)
	assert.Equal(t, store.DefaultRaceName, f.svc.RaceName())

	require.NoError(t, f.svc.StartRace(ctx, "  Fecha 2 "))

	st := f.svc.Snapshot()
	assert.Empty(t, st.Entries)
	assert.Equal(t, "Fecha 2", st.RaceName)
	assert.Len(t, st.Participants, 5, "registry untouched")
	assert.Empty(t, f.svc.ListForSession(SortByName))
}

func TestStartRaceBlankName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	p := f.register(t, "Ana", "800", models.CatNovatos)
	_, _, err := f.svc.CheckIn(ctx, p.ID)
	require.NoError(t, err)

	err = f.svc.StartRace(ctx, "  ")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, f.svc.Snapshot().Entries, 1)
	assert.Equal(t, store.DefaultRaceName, f.svc.RaceName())
}

func TestDeleteLeavesHiddenOrphan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	p := f.register(t, "Ana", "800", models.CatNovatos)
	q := f.register(t, "Beto", "801", models.CatNovatos)
	_, _, err := f.svc.CheckIn(ctx, p.ID)
	require.NoError(t, err)
	_, _, err = f.svc.CheckIn(ctx, q.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteParticipant(ctx, p.ID))
	assert.ErrorIs(t, f.svc.DeleteParticipant(ctx, p.ID), ErrNotFound)

	assert.Len(t, f.svc.Snapshot().Entries, 2, "entry remains")
	lines := f.svc.ListForSession(SortByName)
	require.Len(t, lines, 1)
	assert.Equal(t, q.ID, lines[0].Participant.ID)
	assert.Equal(t, 1, f.svc.OrphanCount())

	stats := f.svc.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.CheckedIn)
	assert.Equal(t, 1, stats.Orphans)

	assert.Contains(t, f.svc.AvailableNumbers(models.CatNovatos), "800", "number released")
}

func TestRemoveEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	p := f.register(t, "Ana", "800", models.CatNovatos)
	e, _, err := f.svc.CheckIn(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.RemoveEntry(ctx, e.ID))
	assert.ErrorIs(t, f.svc.RemoveEntry(ctx, e.ID), ErrNotFound)
	assert.Empty(t, f.svc.Snapshot().Entries)
	assert.Len(t, f.svc.Snapshot().Participants, 1)

	_, created, err := f.svc.CheckIn(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, created, "can check in again after removal")
}

func TestAccessCodeCollision(t *testing.T) {
	f := newFixture(t, Options{}, "1111")
	f.register(t, "Ana", "800", models.CatNovatos)
	second := f.register(t, "Beto", "801", models.CatNovatos)

	got, err := f.svc.FindByAccessCode("1111")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID, "most recent holder wins")
	assert.Len(t, f.svc.HoldersOfAccessCode("1111"), 2)
	assert.Equal(t, 1, f.svc.Stats().CodeCollisions)
}

func TestUniqueAccessCodes(t *testing.T) {
	f := newFixture(t, Options{UniqueAccessCodes: true}, "1111", "1111", "2222")
	f.register(t, "Ana", "800", models.CatNovatos)
	second := f.register(t, "Beto", "801", models.CatNovatos)
	assert.Equal(t, "2222", second.AccessCode)
	assert.Equal(t, 0, f.svc.Stats().CodeCollisions)
}

func TestFindByNameAndPhone(t *testing.T) {
	f := newFixture(t, Options{}, "4821")
	f.register(t, "Ana Ruiz", "I01", models.Cat50cc)

	p, err := f.svc.FindByNameAndPhone("  ana RUIZ ", "(664) 123 4567")
	require.NoError(t, err)
	assert.Equal(t, "4821", p.AccessCode)

	_, err = f.svc.FindByNameAndPhone("Ana Ruiz", "664-000-0000")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.FindByNameAndPhone("", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearch(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, "Zoe Díaz", "F02", models.CatFemenil)
	f.register(t, "Álvaro Peña", "805", models.CatNovatos)
	f.register(t, "Bruno Gil", "801", models.CatNovatos)
	f.register(t, "Carla Mena", "05", models.CatExpertos)

	names := func(ps []models.Participant) []string {
		out := make([]string, len(ps))
		for i, p := range ps {
			out[i] = p.FullName
		}
		return out
	}

	assert.Equal(t, []string{"Carla Mena", "Álvaro Peña", "Bruno Gil", "Zoe Díaz"},
		names(f.svc.Search("", "", SortByName)))
	assert.Equal(t, []string{"Carla Mena", "Bruno Gil", "Álvaro Peña", "Zoe Díaz"},
		names(f.svc.Search("", "", SortByNumber)))
	assert.Equal(t, []string{"Carla Mena", "Bruno Gil", "Álvaro Peña", "Zoe Díaz"},
		names(f.svc.Search("", "", SortByRecency)))

	assert.Equal(t, []string{"Álvaro Peña", "Bruno Gil"}, names(f.svc.Search("NOVATOS", "", SortByName)), "category label")
	assert.Equal(t, []string{"Zoe Díaz"}, names(f.svc.Search("f0", "", SortByName)), "number")
	assert.Equal(t, []string{"Álvaro Peña"}, names(f.svc.Search("peña", "", SortByName)), "name")
	assert.Equal(t, []string{"Bruno Gil"}, names(f.svc.Search("", models.CatNovatos, SortByNumber)[:1]))
	assert.Empty(t, f.svc.Search("zoe", models.CatNovatos, SortByName))
}

func TestListForSessionOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	a := f.register(t, "Ana", "802", models.CatNovatos)
	b := f.register(t, "Beto", "F03", models.CatFemenil)
	c := f.register(t, "Caro", "801", models.CatNovatos)
	for _, p := range []models.Participant{b, a, c} {
		_, _, err := f.svc.CheckIn(ctx, p.ID)
		require.NoError(t, err)
	}

	ids := func(lines []models.RosterLine) []string {
		out := make([]string, len(lines))
		for i, l := range lines {
			out[i] = l.Participant.ID
		}
		return out
	}
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, ids(f.svc.ListForSession(SortByName)))
	assert.Equal(t, []string{c.ID, a.ID, b.ID}, ids(f.svc.ListForSession(SortByNumber)))
	assert.Equal(t, []string{c.ID, a.ID, b.ID}, ids(f.svc.ListForSession(SortByRecency)))
}

func TestSearchSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	a := f.register(t, "Ana", "802", models.CatNovatos)
	b := f.register(t, "Beto", "F03", models.CatFemenil)
	f.register(t, "Caro", "801", models.CatNovatos)
	for _, p := range []models.Participant{a, b} {
		_, _, err := f.svc.CheckIn(ctx, p.ID)
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"empty query keeps all", "", 2},
		{"by name", "ANA", 1},
		{"by number", "f03", 1},
		{"by category", "novatos", 1},
		{"not checked in", "caro", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, f.svc.SearchSession(tt.query, SortByName), tt.want)
		})
	}
}

func TestStatsCountsParticipantsNotEntries(t *testing.T) {
	st := models.State{
		Participants: []models.Participant{{ID: "p1", MotoNumber: "800", Category: models.CatNovatos}},
		Entries: []models.TransponderEntry{
			{ID: "e1", ParticipantID: "p1", Timestamp: t0},
			{ID: "e2", ParticipantID: "p1", Timestamp: t0.Add(time.Minute)},
			{ID: "e3", ParticipantID: "gone", Timestamp: t0},
		},
	}
	s := Stats(st)
	assert.Equal(t, 1, s.CheckedIn)
	assert.Equal(t, 1, s.Orphans)
}

func TestPublicRoster(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.register(t, "Ana", "802", models.CatNovatos)
	b := f.register(t, "Beto", "F03", models.CatFemenil)
	f.register(t, "Caro", "801", models.CatNovatos)
	_, _, err := f.svc.CheckIn(ctx, b.ID)
	require.NoError(t, err)

	lines := f.svc.PublicRoster("", "")
	require.Len(t, lines, 3)
	assert.Equal(t, "F03", lines[0].MotoNumber)
	assert.True(t, lines[0].CheckedIn)
	assert.Equal(t, "801", lines[1].MotoNumber)
	assert.Equal(t, "802", lines[2].MotoNumber)

	assert.Len(t, f.svc.PublicRoster("car", ""), 1)
	assert.Len(t, f.svc.PublicRoster("", models.CatNovatos), 2)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	a := f.register(t, "Ana", "802", models.CatNovatos)
	f.register(t, "Beto", "F03", models.CatFemenil)
	f.register(t, "Caro", "801", models.CatNovatos)
	_, _, err := f.svc.CheckIn(ctx, a.ID)
	require.NoError(t, err)

	s := f.svc.Stats()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, map[models.Category]int{models.CatNovatos: 2, models.CatFemenil: 1}, s.ByCategory)
	assert.Equal(t, 1, s.CheckedIn)
	assert.Equal(t, 0, s.Orphans)
	assert.True(t, s.RegistrationOpen)
	assert.Equal(t, store.DefaultRaceName, s.RaceName)
}

func TestParticipantsOfChat(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Register(context.Background(), Candidate{
		FullName: "Ana", MotoNumber: "800", Category: "Novatos", Phone: "1", Residence: "X", TgID: 42,
	})
	require.NoError(t, err)
	f.register(t, "Beto", "801", models.CatNovatos)

	mine := f.svc.ParticipantsOfChat(42)
	require.Len(t, mine, 1)
	assert.Equal(t, "Ana", mine[0].FullName)
}

func TestServiceOverSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	st, err := store.New(ctx, db, "")
	require.NoError(t, err)
	svc := NewService(st, Options{})

	p, err := svc.Register(ctx, Candidate{FullName: "Ana Ruiz", MotoNumber: "I01", Category: "50cc", Phone: "1", Residence: "X"})
	require.NoError(t, err)
	_, _, err = svc.CheckIn(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, svc.StartRace(ctx, "Fecha 2"))

	reloaded, err := store.New(ctx, db, "")
	require.NoError(t, err)
	snap := reloaded.Snapshot()
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, "I01", snap.Participants[0].MotoNumber)
	assert.Empty(t, snap.Entries)
	assert.Equal(t, "Fecha 2", snap.RaceName)
}
