// Package analysis produces the short organizer summary of the roster.
package analysis

import (
	"context"

	"motoreg-bot/internal/models"
)

// NoParticipants is returned for an empty roster without calling any
// provider.
const NoParticipants = "No hay participantes registrados para analizar."

type Summarizer interface {
	Name() string

	// Summarize always yields displayable text. ok is false when the text
	// describes a failure the user may retry.
	Summarize(ctx context.Context, ps []models.Participant) (text string, ok bool)
}
