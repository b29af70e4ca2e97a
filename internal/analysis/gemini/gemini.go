package gemini

import (
	"context"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"motoreg-bot/internal/logging"
	"motoreg-bot/internal/models"
)

const (
	NotConfigured = "El servicio de IA no está configurado (Falta GEMINI_API_KEY)."
	CallFailed    = "Hubo un error al conectar con la IA de análisis. Verifica la API key configurada."
	EmptyAnswer   = "No se pudo generar el análisis."
)

// Client asks Gemini for the summary through the Gemini API backend. The key
// travels in the x-goog-api-key header.
type Client struct {
	key        string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// New builds a client. A nil httpClient uses http.DefaultTransport at call
// time.
func New(key, model string, timeout time.Duration, httpClient *http.Client) *Client {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{key: key, model: model, timeout: timeout, httpClient: httpClient}
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Summarize(ctx context.Context, ps []models.Participant) (string, bool) {
	if c.key == "" {
		return NotConfigured, false
	}
	log := logging.For("analysis").WithField("provider", "gemini")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     c.key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	})
	if err != nil {
		log.WithError(err).Error("create client")
		return CallFailed, false
	}
	resp, err := client.Models.GenerateContent(ctx, c.model, genai.Text(Prompt(ps)), nil)
	if err != nil {
		log.WithError(err).Error("generate content")
		return CallFailed, false
	}

	text := strings.TrimSpace(firstCandidateText(resp))
	if text == "" {
		return EmptyAnswer, false
	}
	return text, true
}

func firstCandidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range cand.Content.Parts {
			if p != nil {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}
