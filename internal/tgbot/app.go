// Package tgbot is the Telegram front end: riders register, recover their
// access code and check in; admins manage the event from an inline menu.
package tgbot

import (
	"context"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"motoreg-bot/internal/analysis"
	"motoreg-bot/internal/config"
	"motoreg-bot/internal/logging"
	"motoreg-bot/internal/race"
	"motoreg-bot/internal/ratelimit"
)

// stateTTL drops half-finished flows of users who walked away.
const stateTTL = 30 * time.Minute

// Sender is the part of *tgbotapi.BotAPI the bot talks through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type App struct {
	cfg     config.Config
	api     *tgbotapi.BotAPI
	bot     Sender
	svc     *race.Service
	runner  *analysis.Runner
	limiter *ratelimit.Limiter
	log     *logrus.Entry

	// per-user flow state and password-granted admin sessions
	state  *cache.Cache
	admins *cache.Cache
}

type userState struct {
	Flow string
	Step int
	Data map[string]string
}

func New(cfg config.Config, svc *race.Service, runner *analysis.Runner, limiter *ratelimit.Limiter) (*App, error) {
	b, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, err
	}
	b.Debug = false
	a := NewWithSender(cfg, b, svc, runner, limiter)
	a.api = b
	return a, nil
}

// NewWithSender builds an App that cannot poll for updates; updates are fed
// through HandleUpdate.
func NewWithSender(cfg config.Config, s Sender, svc *race.Service, runner *analysis.Runner, limiter *ratelimit.Limiter) *App {
	return &App{
		cfg:     cfg,
		bot:     s,
		svc:     svc,
		runner:  runner,
		limiter: limiter,
		log:     logging.For("tgbot"),
		state:   cache.New(stateTTL, time.Hour),
		admins:  cache.New(12*time.Hour, time.Hour),
	}
}

func (a *App) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := a.api.GetUpdatesChan(u)
	defer a.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			a.runner.Wait()
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			a.HandleUpdate(ctx, upd)
		}
	}
}

func (a *App) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		if err := a.handleMessage(ctx, upd.Message); err != nil {
			a.log.WithError(err).WithField("user", upd.Message.From.ID).Error("handle message")
		}
	} else if upd.CallbackQuery != nil {
		if err := a.handleCallback(ctx, upd.CallbackQuery); err != nil {
			a.log.WithError(err).WithField("data", upd.CallbackQuery.Data).Error("handle callback")
		}
	}
}

func (a *App) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := a.bot.Send(msg)
	return err
}

func (a *App) sendMarkup(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	_, err := a.bot.Send(msg)
	return err
}

func (a *App) isAdmin(tgID int64) bool {
	if a.cfg.IsAdmin(tgID) {
		return true
	}
	_, ok := a.admins.Get(key(tgID))
	return ok
}

func key(tgID int64) string { return strconv.FormatInt(tgID, 10) }

func (a *App) getState(tgID int64) userState {
	if v, ok := a.state.Get(key(tgID)); ok {
		return v.(userState)
	}
	return userState{}
}

func (a *App) setState(tgID int64, st userState) {
	if st.Data == nil {
		st.Data = map[string]string{}
	}
	a.state.SetDefault(key(tgID), st)
}

func (a *App) resetState(tgID int64) { a.state.Delete(key(tgID)) }

// ---------- Message handling ----------

func (a *App) handleMessage(ctx context.Context, m *tgbotapi.Message) error {
	if m.From == nil {
		return nil
	}
	tgID := m.From.ID
	txt := strings.TrimSpace(m.Text)

	switch {
	case strings.HasPrefix(txt, "/start"), strings.HasPrefix(txt, "/menu"):
		a.resetState(tgID)
		return a.showMainMenu(tgID)
	case strings.HasPrefix(txt, "/cancel"):
		a.resetState(tgID)
		return a.SendText(tgID, "Operación cancelada. /start")
	case strings.HasPrefix(txt, "/admin"):
		a.resetState(tgID)
		if a.isAdmin(tgID) {
			return a.showAdminMenu(tgID)
		}
		a.setState(tgID, userState{Flow: flowAdminLogin})
		return a.SendText(tgID, "🔐 Escribe la contraseña de administrador:")
	}

	st := a.getState(tgID)
	if st.Flow != "" {
		return a.handleFlowInput(ctx, tgID, txt, st)
	}
	return a.showMainMenu(tgID)
}

const (
	flowRegister   = "reg"
	flowCheckIn    = "checkin"
	flowRecover    = "recover"
	flowAdminLogin = "admin_login"
	flowSearch     = "admin_search"
	flowNewRace    = "admin_new_race"
	flowRaceSearch = "admin_race_search"
)

func (a *App) handleFlowInput(ctx context.Context, tgID int64, txt string, st userState) error {
	switch st.Flow {
	case flowRegister:
		return a.handleRegistrationFlow(ctx, tgID, txt, st)
	case flowCheckIn:
		return a.handleCheckInFlow(ctx, tgID, txt)
	case flowRecover:
		return a.handleRecoverFlow(tgID, txt, st)
	case flowAdminLogin:
		return a.handleAdminLoginFlow(tgID, txt)
	case flowSearch:
		if !a.isAdmin(tgID) {
			a.resetState(tgID)
			return a.SendText(tgID, "Acceso denegado.")
		}
		return a.handleSearchFlow(tgID, txt)
	case flowNewRace:
		if !a.isAdmin(tgID) {
			a.resetState(tgID)
			return a.SendText(tgID, "Acceso denegado.")
		}
		return a.handleNewRaceFlow(tgID, txt)
	case flowRaceSearch:
		if !a.isAdmin(tgID) {
			a.resetState(tgID)
			return a.SendText(tgID, "Acceso denegado.")
		}
		return a.handleRaceSearchFlow(tgID, txt)
	default:
		a.resetState(tgID)
		return a.SendText(tgID, "Estado reiniciado. Pulsa /start")
	}
}

// ---------- Callback handling ----------

func (a *App) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	tgID := q.From.ID
	data := q.Data

	// ack
	cb := tgbotapi.NewCallback(q.ID, "")
	_, _ = a.bot.Request(cb)

	if strings.HasPrefix(data, "u:") {
		return a.handleUserCallback(ctx, tgID, data)
	}
	if strings.HasPrefix(data, "a:") {
		if !a.isAdmin(tgID) {
			return a.SendText(tgID, "Acceso denegado.")
		}
		return a.handleAdminCallback(ctx, tgID, data)
	}
	return nil
}
