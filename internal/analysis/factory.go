package analysis

import (
	"context"
	"fmt"

	"motoreg-bot/internal/analysis/gemini"
	"motoreg-bot/internal/analysis/local"
	"motoreg-bot/internal/config"
	"motoreg-bot/internal/metrics"
	"motoreg-bot/internal/models"
)

func NewSummarizer(cfg config.Config) (Summarizer, error) {
	switch cfg.AIProvider {
	case "gemini", "":
		return guarded{gemini.New(cfg.GeminiKey, cfg.GeminiModel, cfg.AITimeout, nil)}, nil
	case "local":
		return guarded{local.New()}, nil
	default:
		return nil, fmt.Errorf("unknown AI provider: %s", cfg.AIProvider)
	}
}

// guarded answers the empty roster itself and counts outcomes.
type guarded struct {
	Summarizer
}

func (g guarded) Summarize(ctx context.Context, ps []models.Participant) (string, bool) {
	if len(ps) == 0 {
		metrics.AnalysisCalls.WithLabelValues(g.Name(), "empty").Inc()
		return NoParticipants, true
	}
	text, ok := g.Summarizer.Summarize(ctx, ps)
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	metrics.AnalysisCalls.WithLabelValues(g.Name(), outcome).Inc()
	return text, ok
}
