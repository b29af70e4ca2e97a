package race

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"motoreg-bot/internal/metrics"
	"motoreg-bot/internal/store"
)

// StartRace clears every check-in and renames the session in one step.
func (s *Service) StartRace(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("raceName", "required")
	}
	var cleared int
	err := s.st.Update(ctx, "start_race", func(tx *store.Tx) error {
		cleared = len(tx.State().Entries)
		tx.ClearEntries()
		tx.SetRaceName(name)
		return nil
	})
	if err != nil {
		return err
	}
	metrics.RaceStarts.Inc()
	s.log.WithFields(logrus.Fields{"race": name, "cleared": cleared}).Info("race started")
	return nil
}

func (s *Service) RaceName() string { return s.st.Snapshot().RaceName }

func (s *Service) RegistrationOpen() bool { return s.st.Snapshot().RegistrationOpen }

// ToggleRegistration flips the gate and returns the new value.
func (s *Service) ToggleRegistration(ctx context.Context) (bool, error) {
	var open bool
	err := s.st.Update(ctx, "toggle_registration", func(tx *store.Tx) error {
		open = !tx.State().RegistrationOpen
		tx.SetRegistrationOpen(open)
		return nil
	})
	if err != nil {
		return false, err
	}
	s.log.WithField("open", open).Info("registration toggled")
	return open, nil
}
