package race

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"motoreg-bot/internal/logging"
	"motoreg-bot/internal/metrics"
	"motoreg-bot/internal/models"
	"motoreg-bot/internal/store"
)

// maxCodeDraws bounds the retry loop of Options.UniqueAccessCodes.
const maxCodeDraws = 50

type Options struct {
	// UniqueAccessCodes redraws codes already held by someone.
	UniqueAccessCodes bool

	Now           func() time.Time
	NewID         func() string
	NewAccessCode func() string
}

// Service runs every event operation as one store transaction.
type Service struct {
	st   *store.Store
	opts Options
	log  *logrus.Entry
}

func NewService(st *store.Store, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.NewAccessCode == nil {
		opts.NewAccessCode = RandomAccessCode
	}
	return &Service{st: st, opts: opts, log: logging.For("race")}
}

// RandomAccessCode draws a 4-digit code in 1000..9999.
func RandomAccessCode() string {
	return strconv.Itoa(1000 + rand.IntN(9000))
}

// Snapshot is a copy of the whole state for read-only views.
func (s *Service) Snapshot() models.State { return s.st.Snapshot() }

// AvailableNumbers lists the free numbers of c right now.
func (s *Service) AvailableNumbers(c models.Category) []string {
	st := s.st.Snapshot()
	return AvailableNumbers(c, TakenNumbers(st.Participants))
}

// Register validates c and stores a new participant. The number is checked
// again against the current state inside the transaction.
func (s *Service) Register(ctx context.Context, c Candidate) (models.Participant, error) {
	if err := c.Validate(); err != nil {
		return models.Participant{}, err
	}
	c = c.trimmed()
	cat, err := ParseCategory(c.Category)
	if err != nil {
		return models.Participant{}, invalid("category", "category")
	}

	var p models.Participant
	err = s.st.Update(ctx, "register", func(tx *store.Tx) error {
		st := tx.State()
		if !st.RegistrationOpen {
			return ErrRegistrationClosed
		}
		if !IsAvailable(cat, c.MotoNumber, TakenNumbers(st.Participants)) {
			return fmt.Errorf("%w: %s", ErrNumberTaken, c.MotoNumber)
		}
		p = models.Participant{
			ID:               s.opts.NewID(),
			FullName:         c.FullName,
			MotoNumber:       c.MotoNumber,
			Category:         cat,
			Phone:            c.Phone,
			Residence:        c.Residence,
			RegistrationDate: s.opts.Now(),
			AccessCode:       s.drawCode(st.Participants),
			TgID:             c.TgID,
		}
		tx.AddParticipant(p)
		return nil
	})
	if err != nil {
		return models.Participant{}, err
	}
	metrics.Registrations.WithLabelValues(string(cat)).Inc()
	s.log.WithFields(logrus.Fields{"id": p.ID, "number": p.MotoNumber, "category": p.Category}).Info("participant registered")
	return p, nil
}

func (s *Service) drawCode(ps []models.Participant) string {
	if !s.opts.UniqueAccessCodes {
		return s.opts.NewAccessCode()
	}
	held := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		held[p.AccessCode] = struct{}{}
	}
	var code string
	for i := 0; i < maxCodeDraws; i++ {
		code = s.opts.NewAccessCode()
		if _, taken := held[code]; !taken {
			return code
		}
	}
	s.log.WithField("code", code).Warn("no free access code after retries, keeping a duplicate")
	return code
}

func (s *Service) FindByAccessCode(code string) (models.Participant, error) {
	p, ok := FindByAccessCode(s.st.Snapshot().Participants, code)
	if !ok {
		return models.Participant{}, ErrNotFound
	}
	return p, nil
}

func (s *Service) HoldersOfAccessCode(code string) []models.Participant {
	return HoldersOfAccessCode(s.st.Snapshot().Participants, code)
}

func (s *Service) FindByNameAndPhone(name, phone string) (models.Participant, error) {
	p, ok := FindByNameAndPhone(s.st.Snapshot().Participants, name, phone)
	if !ok {
		return models.Participant{}, ErrNotFound
	}
	return p, nil
}

func (s *Service) Participant(id string) (models.Participant, error) {
	p, ok := findByID(s.st.Snapshot().Participants, id)
	if !ok {
		return models.Participant{}, ErrNotFound
	}
	return p, nil
}

// ParticipantsOfChat lists what a Telegram user registered, newest first.
func (s *Service) ParticipantsOfChat(tgID int64) []models.Participant {
	var out []models.Participant
	for _, p := range s.st.Snapshot().Participants {
		if p.TgID == tgID {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) Search(query string, category models.Category, mode SortMode) []models.Participant {
	return Search(s.st.Snapshot().Participants, query, category, mode)
}

// DeleteParticipant removes the participant only; its entries stay behind
// as orphans and disappear from session views.
func (s *Service) DeleteParticipant(ctx context.Context, id string) error {
	err := s.st.Update(ctx, "delete_participant", func(tx *store.Tx) error {
		if !tx.DeleteParticipant(id) {
			return ErrNotFound
		}
		return nil
	})
	if err == nil {
		s.log.WithField("id", id).Info("participant deleted")
	}
	return err
}

func (s *Service) Stats() models.RegistrationStats { return Stats(s.st.Snapshot()) }

func (s *Service) PublicRoster(query string, category models.Category) []PublicLine {
	return PublicRoster(s.st.Snapshot(), query, category)
}

// Import replaces the whole state, e.g. with a legacy dump.
func (s *Service) Import(ctx context.Context, st models.State) error {
	if st.RaceName == "" {
		st.RaceName = store.DefaultRaceName
	}
	return s.st.Update(ctx, "import", func(tx *store.Tx) error {
		tx.Replace(st)
		return nil
	})
}
