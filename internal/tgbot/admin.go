package tgbot

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"motoreg-bot/internal/export"
	"motoreg-bot/internal/models"
	"motoreg-bot/internal/race"
	"motoreg-bot/internal/server"
)

// searchLimit caps the result buttons of one admin search.
const searchLimit = 20

func (a *App) handleAdminLoginFlow(tgID int64, txt string) error {
	a.resetState(tgID)
	pw := a.cfg.AdminPassword
	if pw == "" || subtle.ConstantTimeCompare([]byte(txt), []byte(pw)) != 1 {
		a.log.WithField("user", tgID).Warn("admin login rejected")
		return a.SendText(tgID, "Contraseña incorrecta.")
	}
	a.admins.SetDefault(key(tgID), true)
	a.log.WithField("user", tgID).Info("admin login")
	return a.showAdminMenu(tgID)
}

func (a *App) handleAdminCallback(ctx context.Context, tgID int64, data string) error {
	switch data {
	case "a:menu":
		a.resetState(tgID)
		return a.showAdminMenu(tgID)
	case "a:search":
		a.setState(tgID, userState{Flow: flowSearch})
		return a.SendText(tgID, "🔍 Escribe nombre, número o categoría (o * para todos):")
	case "a:stats":
		return a.showStats(tgID)
	case "a:race":
		a.resetState(tgID)
		return a.showRace(tgID, "")
	case "a:racesearch":
		a.setState(tgID, userState{Flow: flowRaceSearch})
		return a.SendText(tgID, "🔍 Filtrar llegadas por nombre, número o categoría (o * para todas):")
	case "a:toggle":
		open, err := a.svc.ToggleRegistration(ctx)
		if err != nil {
			return err
		}
		if open {
			return a.SendText(tgID, "🔓 Inscripciones abiertas.")
		}
		return a.SendText(tgID, "🔒 Inscripciones cerradas.")
	case "a:newrace":
		a.setState(tgID, userState{Flow: flowNewRace})
		return a.SendText(tgID, fmt.Sprintf("Carrera actual: %s\nEscribe el nombre de la nueva carrera (por ejemplo: Fecha 2):", a.svc.RaceName()))
	case "a:start_ok":
		return a.confirmNewRace(ctx, tgID)
	case "a:start_cancel":
		a.resetState(tgID)
		return a.SendText(tgID, "Cancelado. La carrera actual sigue igual.")
	case "a:export":
		return a.showExports(tgID)
	case "a:ai":
		return a.startAnalysis(ctx, tgID)
	case "a:logout":
		a.admins.Delete(key(tgID))
		a.resetState(tgID)
		a.runner.Cancel(tgID)
		return a.SendText(tgID, "Sesión de administrador cerrada.")
	}

	if strings.HasPrefix(data, "a:exp:") {
		parts := strings.Split(strings.TrimPrefix(data, "a:exp:"), ":")
		if len(parts) != 2 {
			return nil
		}
		return a.sendExport(tgID, parts[0], parts[1])
	}

	if strings.HasPrefix(data, "a:del:") {
		id := strings.TrimPrefix(data, "a:del:")
		p, err := a.svc.Participant(id)
		if errors.Is(err, race.ErrNotFound) {
			return a.SendText(tgID, "Ese piloto ya no existe.")
		}
		if err != nil {
			return err
		}
		kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Sí, eliminar", "a:delok:"+id),
			tgbotapi.NewInlineKeyboardButtonData("Cancelar", "a:menu"),
		))
		return a.sendMarkup(tgID, fmt.Sprintf("¿Eliminar a %s (#%s, %s)? No se puede deshacer.", p.FullName, p.MotoNumber, p.Category), kb)
	}

	if strings.HasPrefix(data, "a:delok:") {
		err := a.svc.DeleteParticipant(ctx, strings.TrimPrefix(data, "a:delok:"))
		if errors.Is(err, race.ErrNotFound) {
			return a.SendText(tgID, "Ese piloto ya no existe.")
		}
		if err != nil {
			return err
		}
		return a.SendText(tgID, "🗑 Piloto eliminado. Su número vuelve a estar disponible.")
	}

	if strings.HasPrefix(data, "a:rm:") {
		err := a.svc.RemoveEntry(ctx, strings.TrimPrefix(data, "a:rm:"))
		if errors.Is(err, race.ErrNotFound) {
			return a.SendText(tgID, "Ese registro de llegada ya no existe.")
		}
		if err != nil {
			return err
		}
		return a.SendText(tgID, "Llegada eliminada.")
	}

	return nil
}

// ---------- Screens ----------

func (a *App) showAdminMenu(tgID int64) error {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔍 Buscar piloto", "a:search"),
			tgbotapi.NewInlineKeyboardButtonData("📊 Estadísticas", "a:stats"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏁 Carrera en curso", "a:race"),
			tgbotapi.NewInlineKeyboardButtonData("🆕 Nueva carrera", "a:newrace"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔓/🔒 Inscripciones", "a:toggle"),
			tgbotapi.NewInlineKeyboardButtonData("📤 Exportar", "a:export"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🤖 Análisis IA", "a:ai"),
			tgbotapi.NewInlineKeyboardButtonData("🚪 Salir", "a:logout"),
		),
	)
	return a.sendMarkup(tgID, "🛠 Panel de administración\nCarrera: "+a.svc.RaceName(), kb)
}

func (a *App) handleSearchFlow(tgID int64, txt string) error {
	a.resetState(tgID)
	q := txt
	if q == "*" {
		q = ""
	}
	found := a.svc.Search(q, "", race.SortByName)
	if len(found) == 0 {
		return a.SendText(tgID, "Sin resultados.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 %d resultado(s)\n\n", len(found))
	rows := [][]tgbotapi.InlineKeyboardButton{}
	for i, p := range found {
		if i == searchLimit {
			fmt.Fprintf(&b, "… y %d más, afina la búsqueda.", len(found)-searchLimit)
			break
		}
		fmt.Fprintf(&b, "#%s %s (%s)\nTel: %s · Código: %s · %s\n\n",
			p.MotoNumber, p.FullName, p.Category, p.Phone, p.AccessCode, p.Residence)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 #"+p.MotoNumber+" "+p.FullName, "a:del:"+p.ID),
		))
	}
	return a.sendMarkup(tgID, strings.TrimSpace(b.String()), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (a *App) showStats(tgID int64) error {
	s := a.svc.Stats()
	status := "abiertas"
	if !s.RegistrationOpen {
		status = "cerradas"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 %s\nInscripciones: %s\nInscritos: %d\nLlegadas: %d\n\n", s.RaceName, status, s.Total, s.CheckedIn)
	for _, c := range models.Categories {
		if n := s.ByCategory[c]; n > 0 {
			fmt.Fprintf(&b, "%s: %d\n", c, n)
		}
	}
	if s.Orphans > 0 {
		fmt.Fprintf(&b, "\nLlegadas de pilotos eliminados: %d", s.Orphans)
	}
	if s.CodeCollisions > 0 {
		fmt.Fprintf(&b, "\nCódigos de acceso repetidos: %d", s.CodeCollisions)
	}
	return a.SendText(tgID, strings.TrimSpace(b.String()))
}

func (a *App) handleRaceSearchFlow(tgID int64, txt string) error {
	a.resetState(tgID)
	if txt == "*" {
		txt = ""
	}
	return a.showRace(tgID, txt)
}

// showRace lists the check-ins of the current race, narrowed by query.
func (a *App) showRace(tgID int64, query string) error {
	lines := a.svc.SearchSession(query, race.SortByRecency)
	filter := tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔍 Filtrar", "a:racesearch"))
	if len(lines) == 0 {
		if query != "" {
			return a.sendMarkup(tgID, fmt.Sprintf("🏁 %s\nNinguna llegada coincide con «%s».", a.svc.RaceName(), query),
				tgbotapi.NewInlineKeyboardMarkup(filter))
		}
		return a.SendText(tgID, fmt.Sprintf("🏁 %s\nTodavía no hay llegadas registradas.", a.svc.RaceName()))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🏁 %s\nLlegadas: %d\n", a.svc.RaceName(), len(lines))
	if query != "" {
		fmt.Fprintf(&b, "Filtro: %s\n", query)
	}
	b.WriteString("\n")
	rows := [][]tgbotapi.InlineKeyboardButton{filter}
	for i, l := range lines {
		if i == rosterLimit {
			fmt.Fprintf(&b, "… y %d más", len(lines)-rosterLimit)
			break
		}
		p := l.Participant
		fmt.Fprintf(&b, "%s #%s %s (%s)\n", l.CheckInTime.Format("15:04"), p.MotoNumber, p.FullName, p.Category)
		if i < searchLimit {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("❌ Quitar #"+p.MotoNumber, "a:rm:"+l.EntryID),
			))
		}
	}
	return a.sendMarkup(tgID, strings.TrimSpace(b.String()), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

// ---------- New race ----------

func (a *App) handleNewRaceFlow(tgID int64, txt string) error {
	if txt == "" {
		return a.SendText(tgID, "El nombre no puede estar vacío. Escribe de nuevo:")
	}
	a.setState(tgID, userState{Flow: flowNewRace, Step: 1, Data: map[string]string{"name": txt}})
	kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Confirmar", "a:start_ok"),
		tgbotapi.NewInlineKeyboardButtonData("Cancelar", "a:start_cancel"),
	))
	n := len(a.svc.ListForSession(race.SortByRecency))
	return a.sendMarkup(tgID, fmt.Sprintf("⚠️ Se iniciará «%s» y se borrarán %d llegada(s) de «%s». Las inscripciones no se tocan. ¿Confirmas?",
		txt, n, a.svc.RaceName()), kb)
}

func (a *App) confirmNewRace(ctx context.Context, tgID int64) error {
	st := a.getState(tgID)
	if st.Flow != flowNewRace || st.Step != 1 {
		return a.SendText(tgID, "No hay una carrera pendiente de confirmar. /admin")
	}
	a.resetState(tgID)
	if err := a.svc.StartRace(ctx, st.Data["name"]); err != nil {
		var verr *race.ValidationError
		if errors.As(err, &verr) {
			return a.SendText(tgID, "Falta: "+describeFields(verr))
		}
		return err
	}
	return a.SendText(tgID, "🏁 Nueva carrera iniciada: "+a.svc.RaceName())
}

// ---------- Export ----------

func (a *App) showExports(tgID int64) error {
	var b strings.Builder
	b.WriteString("📤 Enlaces de descarga:\n")
	for _, kind := range []string{server.ExportParticipants, server.ExportRace} {
		for _, f := range []export.Format{export.FormatCSV, export.FormatXLSX} {
			fmt.Fprintf(&b, "\n%s (%s):\n%s\n", exportTitle(kind), f, server.ExportURL(a.cfg, kind, f))
		}
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Base de datos CSV", "a:exp:participants:csv"),
			tgbotapi.NewInlineKeyboardButtonData("Base de datos XLSX", "a:exp:participants:xlsx"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Carrera CSV", "a:exp:race:csv"),
			tgbotapi.NewInlineKeyboardButtonData("Carrera XLSX", "a:exp:race:xlsx"),
		),
	)
	return a.sendMarkup(tgID, b.String(), kb)
}

func exportTitle(kind string) string {
	if kind == server.ExportRace {
		return "Carrera en curso"
	}
	return "Base de datos"
}

func (a *App) sendExport(tgID int64, kind, format string) error {
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	data, filename, err := server.BuildExport(a.svc, kind, f)
	if err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(tgID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	_, err = a.bot.Send(doc)
	return err
}

// ---------- AI summary ----------

func (a *App) startAnalysis(ctx context.Context, tgID int64) error {
	ps := a.svc.Snapshot().Participants
	if err := a.SendText(tgID, fmt.Sprintf("🤖 Analizando %d inscripciones…", len(ps))); err != nil {
		return err
	}
	a.runner.Start(ctx, tgID, ps, func(text string, ok bool) {
		var err error
		if ok {
			err = a.SendText(tgID, "🤖 "+text)
		} else {
			err = a.sendMarkup(tgID, "⚠️ "+text, tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🔄 Reintentar", "a:ai"),
			)))
		}
		if err != nil {
			a.log.WithError(err).Error("deliver analysis")
		}
	})
	return nil
}
