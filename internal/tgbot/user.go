package tgbot

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"motoreg-bot/internal/metrics"
	"motoreg-bot/internal/models"
	"motoreg-bot/internal/race"
)

const (
	// numbers per picker page, numbersPerRow buttons per row
	numbersPerPage = 40
	numbersPerRow  = 5

	// rosterLimit caps list messages below Telegram's 4096 chars
	rosterLimit = 60
)

// registration steps
const (
	stepNumber = iota + 1
	stepName
	stepPhone
	stepResidence
)

const msgRegistrationClosed = "⛔ Las inscripciones están cerradas por el momento."

func (a *App) showMainMenu(tgID int64) error {
	status := "abiertas ✅"
	if !a.svc.RegistrationOpen() {
		status = "cerradas ⛔"
	}
	text := fmt.Sprintf("🏍 %s\nInscripciones: %s\n\n¿Qué quieres hacer?", a.svc.RaceName(), status)
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📝 Inscribirme", "u:register"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏁 Registrar llegada", "u:checkin"),
			tgbotapi.NewInlineKeyboardButtonData("🔑 Recuperar código", "u:recover"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📋 Lista de pilotos", "u:roster"),
			tgbotapi.NewInlineKeyboardButtonData("👤 Mis inscripciones", "u:mine"),
		),
	)
	return a.sendMarkup(tgID, text, kb)
}

func (a *App) handleUserCallback(ctx context.Context, tgID int64, data string) error {
	switch data {
	case "u:menu":
		a.resetState(tgID)
		return a.showMainMenu(tgID)
	case "u:register":
		return a.startRegistration(tgID)
	case "u:checkin":
		a.setState(tgID, userState{Flow: flowCheckIn})
		return a.SendText(tgID, "🔑 Escribe tu código de acceso de 4 dígitos:")
	case "u:recover":
		a.setState(tgID, userState{Flow: flowRecover})
		return a.SendText(tgID, "Para recuperar tu código escribe tu nombre completo, tal como te inscribiste:")
	case "u:roster":
		return a.showRoster(tgID)
	case "u:mine":
		return a.showMine(tgID)
	}

	if strings.HasPrefix(data, "u:cat:") {
		i, err := strconv.Atoi(strings.TrimPrefix(data, "u:cat:"))
		if err != nil || i < 0 || i >= len(models.Categories) {
			return nil
		}
		return a.pickCategory(tgID, models.Categories[i])
	}

	if strings.HasPrefix(data, "u:page:") {
		page, err := strconv.Atoi(strings.TrimPrefix(data, "u:page:"))
		if err != nil {
			return nil
		}
		st := a.getState(tgID)
		if st.Flow != flowRegister {
			return a.SendText(tgID, "Pulsa /start")
		}
		return a.showNumberPicker(tgID, models.Category(st.Data["category"]), page)
	}

	if strings.HasPrefix(data, "u:num:") {
		return a.pickNumber(ctx, tgID, strings.TrimPrefix(data, "u:num:"))
	}

	return nil
}

// ---------- Registration ----------

func (a *App) startRegistration(tgID int64) error {
	if !a.svc.RegistrationOpen() {
		a.resetState(tgID)
		return a.SendText(tgID, msgRegistrationClosed)
	}
	a.setState(tgID, userState{Flow: flowRegister})

	rows := [][]tgbotapi.InlineKeyboardButton{}
	row := []tgbotapi.InlineKeyboardButton{}
	for i, c := range models.Categories {
		label := fmt.Sprintf("%s (%s)", c, race.RuleFor(c).Describe())
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, "u:cat:"+strconv.Itoa(i)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = []tgbotapi.InlineKeyboardButton{}
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return a.sendMarkup(tgID, "Elige tu categoría:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (a *App) pickCategory(tgID int64, c models.Category) error {
	st := a.getState(tgID)
	if st.Flow != flowRegister {
		return a.SendText(tgID, "Pulsa /start")
	}
	st.Data["category"] = string(c)
	st.Step = stepNumber
	a.setState(tgID, st)
	return a.showNumberPicker(tgID, c, 0)
}

func (a *App) showNumberPicker(tgID int64, c models.Category, page int) error {
	free := a.svc.AvailableNumbers(c)
	if len(free) == 0 {
		return a.sendMarkup(tgID, fmt.Sprintf("No quedan números disponibles en %s. Elige otra categoría.", c),
			tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("↩️ Categorías", "u:register"),
			)))
	}

	pages := (len(free) + numbersPerPage - 1) / numbersPerPage
	if page < 0 || page >= pages {
		page = 0
	}
	chunk := free[page*numbersPerPage : min((page+1)*numbersPerPage, len(free))]

	rows := [][]tgbotapi.InlineKeyboardButton{}
	for i := 0; i < len(chunk); i += numbersPerRow {
		row := []tgbotapi.InlineKeyboardButton{}
		for _, n := range chunk[i:min(i+numbersPerRow, len(chunk))] {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(n, "u:num:"+n))
		}
		rows = append(rows, row)
	}
	nav := []tgbotapi.InlineKeyboardButton{}
	if page > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("◀️", "u:page:"+strconv.Itoa(page-1)))
	}
	if page < pages-1 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("▶️", "u:page:"+strconv.Itoa(page+1)))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}

	text := fmt.Sprintf("Categoría %s: %d números disponibles (página %d de %d).\nElige tu número o escríbelo:",
		c, len(free), page+1, pages)
	return a.sendMarkup(tgID, text, tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (a *App) pickNumber(ctx context.Context, tgID int64, number string) error {
	st := a.getState(tgID)
	if st.Flow != flowRegister || st.Data["category"] == "" {
		return a.SendText(tgID, "Pulsa /start")
	}
	c := models.Category(st.Data["category"])
	number = race.NormalizeNumber(number)
	if !race.IsAvailable(c, number, race.TakenNumbers(a.svc.Snapshot().Participants)) {
		return a.SendText(tgID, fmt.Sprintf("El número %s no está disponible en %s. Elige otro de la lista o escríbelo:", number, c))
	}
	st.Data["number"] = number

	// a retry after a lost number already has the personal data
	if st.Data["name"] != "" && st.Data["phone"] != "" && st.Data["residence"] != "" {
		return a.completeRegistration(ctx, tgID, st)
	}
	st.Step = stepName
	a.setState(tgID, st)
	return a.SendText(tgID, fmt.Sprintf("Número %s apartado. Escribe tu nombre completo:", number))
}

func (a *App) handleRegistrationFlow(ctx context.Context, tgID int64, txt string, st userState) error {
	if txt == "" {
		return a.SendText(tgID, "No puede estar vacío. Escribe de nuevo:")
	}
	switch st.Step {
	case stepNumber:
		return a.pickNumber(ctx, tgID, txt)
	case stepName:
		st.Data["name"] = txt
		st.Step = stepPhone
		a.setState(tgID, st)
		return a.SendText(tgID, "Escribe tu teléfono:")
	case stepPhone:
		st.Data["phone"] = txt
		st.Step = stepResidence
		a.setState(tgID, st)
		return a.SendText(tgID, "¿De dónde eres? (ciudad o lugar de residencia):")
	case stepResidence:
		st.Data["residence"] = txt
		return a.completeRegistration(ctx, tgID, st)
	default:
		return a.startRegistration(tgID)
	}
}

func (a *App) completeRegistration(ctx context.Context, tgID int64, st userState) error {
	p, err := a.svc.Register(ctx, race.Candidate{
		FullName:   st.Data["name"],
		MotoNumber: st.Data["number"],
		Category:   st.Data["category"],
		Phone:      st.Data["phone"],
		Residence:  st.Data["residence"],
		TgID:       tgID,
	})
	var verr *race.ValidationError
	switch {
	case err == nil:
	case errors.Is(err, race.ErrNumberTaken):
		st.Step = stepNumber
		a.setState(tgID, st)
		if err := a.SendText(tgID, fmt.Sprintf("😕 Alguien acaba de tomar el número %s. Elige otro:", st.Data["number"])); err != nil {
			return err
		}
		return a.showNumberPicker(tgID, models.Category(st.Data["category"]), 0)
	case errors.Is(err, race.ErrRegistrationClosed):
		a.resetState(tgID)
		return a.SendText(tgID, msgRegistrationClosed)
	case errors.As(err, &verr):
		a.resetState(tgID)
		return a.SendText(tgID, "Faltan datos: "+describeFields(verr)+". Empieza de nuevo con /start")
	default:
		return err
	}

	a.resetState(tgID)
	text := fmt.Sprintf("✅ ¡Inscripción completa!\n\nPiloto: %s\nCategoría: %s\nNúmero: %s\n\n🔑 Tu código de acceso: %s\nGuárdalo, lo necesitarás para registrar tu llegada el día de la carrera.",
		p.FullName, p.Category, p.MotoNumber, p.AccessCode)
	return a.SendText(tgID, text)
}

var fieldNames = map[string]string{
	"fullName":   "nombre",
	"motoNumber": "número",
	"category":   "categoría",
	"phone":      "teléfono",
	"residence":  "residencia",
	"raceName":   "nombre de la carrera",
}

func describeFields(verr *race.ValidationError) string {
	names := make([]string, 0, len(verr.Fields))
	for _, f := range slices.Sorted(maps.Keys(verr.Fields)) {
		if n, ok := fieldNames[f]; ok {
			names = append(names, n)
			continue
		}
		names = append(names, f)
	}
	return strings.Join(names, ", ")
}

// ---------- Check-in ----------

func (a *App) allowAttempt(tgID int64) bool {
	if a.limiter.Allow("chat:" + key(tgID)) {
		return true
	}
	metrics.AccessCodeRejections.WithLabelValues("rate_limited").Inc()
	return false
}

func (a *App) handleCheckInFlow(ctx context.Context, tgID int64, txt string) error {
	if !a.allowAttempt(tgID) {
		return a.SendText(tgID, "⏳ Demasiados intentos. Espera un momento y vuelve a intentarlo.")
	}
	code := strings.TrimSpace(txt)
	p, err := a.svc.FindByAccessCode(code)
	if errors.Is(err, race.ErrNotFound) {
		metrics.AccessCodeRejections.WithLabelValues("unknown").Inc()
		return a.SendText(tgID, "❌ Código no encontrado. Revisa e inténtalo de nuevo, o pulsa /cancel.")
	}
	if err != nil {
		return err
	}
	if holders := a.svc.HoldersOfAccessCode(code); len(holders) > 1 {
		a.log.WithField("holders", len(holders)).Warn("access code shared, checking in the most recent holder")
	}

	entry, created, err := a.svc.CheckIn(ctx, p.ID)
	if err != nil {
		return err
	}
	a.resetState(tgID)
	if !created {
		return a.SendText(tgID, fmt.Sprintf("ℹ️ %s, ya estabas registrado en %s desde las %s.",
			p.FullName, a.svc.RaceName(), entry.Timestamp.Format("15:04")))
	}
	return a.SendText(tgID, fmt.Sprintf("✅ Llegada registrada en %s\n#%s %s (%s)\nHora: %s",
		a.svc.RaceName(), p.MotoNumber, p.FullName, p.Category, entry.Timestamp.Format("15:04")))
}

// ---------- Code recovery ----------

func (a *App) handleRecoverFlow(tgID int64, txt string, st userState) error {
	if txt == "" {
		return a.SendText(tgID, "No puede estar vacío. Escribe de nuevo:")
	}
	if st.Step == 0 {
		st.Data["name"] = txt
		st.Step = 1
		a.setState(tgID, st)
		return a.SendText(tgID, "Ahora escribe el teléfono que registraste:")
	}

	if !a.allowAttempt(tgID) {
		return a.SendText(tgID, "⏳ Demasiados intentos. Espera un momento y vuelve a intentarlo.")
	}
	a.resetState(tgID)
	p, err := a.svc.FindByNameAndPhone(st.Data["name"], txt)
	if errors.Is(err, race.ErrNotFound) {
		metrics.AccessCodeRejections.WithLabelValues("unknown").Inc()
		return a.SendText(tgID, "❌ No encontramos una inscripción con ese nombre y teléfono. /start")
	}
	if err != nil {
		return err
	}
	return a.SendText(tgID, fmt.Sprintf("🔑 %s (#%s), tu código de acceso es: %s", p.FullName, p.MotoNumber, p.AccessCode))
}

// ---------- Lists ----------

func (a *App) showRoster(tgID int64) error {
	lines := a.svc.PublicRoster("", "")
	if len(lines) == 0 {
		return a.SendText(tgID, "Todavía no hay pilotos inscritos.")
	}
	checked := 0
	for _, l := range lines {
		if l.CheckedIn {
			checked++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 %s\nLlegadas: %d / %d\n\n", a.svc.RaceName(), checked, len(lines))
	for i, l := range lines {
		if i == rosterLimit {
			fmt.Fprintf(&b, "… y %d más", len(lines)-rosterLimit)
			break
		}
		mark := "▫️"
		if l.CheckedIn {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s #%s %s (%s, %s)\n", mark, l.MotoNumber, l.FullName, l.Category, l.Residence)
	}
	return a.SendText(tgID, b.String())
}

func (a *App) showMine(tgID int64) error {
	mine := a.svc.ParticipantsOfChat(tgID)
	if len(mine) == 0 {
		return a.sendMarkup(tgID, "No tienes inscripciones desde esta cuenta.",
			tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("📝 Inscribirme", "u:register"),
			)))
	}
	var b strings.Builder
	b.WriteString("👤 Tus inscripciones:\n\n")
	for _, p := range mine {
		status := "pendiente de llegada"
		if e, ok := a.svc.IsCheckedIn(p.ID); ok {
			status = "llegada " + e.Timestamp.Format("15:04")
		}
		fmt.Fprintf(&b, "#%s %s (%s)\nCódigo: %s · %s\n\n", p.MotoNumber, p.FullName, p.Category, p.AccessCode, status)
	}
	return a.SendText(tgID, strings.TrimSpace(b.String()))
}
