package gemini

import (
	"strings"

	"motoreg-bot/internal/models"
)

// Prompt sends only category and residence of each rider.
func Prompt(ps []models.Participant) string {
	var b strings.Builder
	b.WriteString("Actúa como un organizador de eventos deportivos experto. ")
	b.WriteString("Analiza la siguiente lista de participantes para una carrera de motocross/enduro.\n\n")
	b.WriteString("Datos de los participantes (Categoría y Residencia):\n")
	for _, p := range ps {
		b.WriteString("- Cat: ")
		b.WriteString(string(p.Category))
		b.WriteString(", Res: ")
		b.WriteString(p.Residence)
		b.WriteString("\n")
	}
	b.WriteString("\nPor favor, genera un resumen ejecutivo breve (máximo 150 palabras) en español que incluya:\n")
	b.WriteString("1. ¿Cuál es la categoría más competitiva (con más inscritos)?\n")
	b.WriteString("2. Diversidad geográfica (de dónde vienen la mayoría).\n")
	b.WriteString("3. Una sugerencia logística basada en estos datos (ej. si hay muchos novatos, sugerir más seguridad en zonas fáciles).\n\n")
	b.WriteString("Mantén un tono profesional y motivador.")
	return b.String()
}
