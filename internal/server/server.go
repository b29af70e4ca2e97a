// Package server is the HTTP API: public registration, check-in and roster,
// an admin area behind a shared password, signed export downloads and
// Prometheus metrics.
package server

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"motoreg-bot/internal/analysis"
	"motoreg-bot/internal/config"
	"motoreg-bot/internal/export"
	"motoreg-bot/internal/metrics"
	"motoreg-bot/internal/models"
	"motoreg-bot/internal/race"
	"motoreg-bot/internal/ratelimit"
	"motoreg-bot/internal/util"
)

const (
	ExportParticipants = "participants"
	ExportRace         = "race"
)

type Server struct {
	cfg     config.Config
	svc     *race.Service
	ai      analysis.Summarizer
	limiter *ratelimit.Limiter
}

func New(cfg config.Config, svc *race.Service, ai analysis.Summarizer, limiter *ratelimit.Limiter) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{cfg: cfg, svc: svc, ai: ai, limiter: limiter}
	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.Router(),
	}
}

// NewHandler builds the server without an http.Server around it.
func NewHandler(cfg config.Config, svc *race.Service, ai analysis.Summarizer, limiter *ratelimit.Limiter) *Server {
	return &Server{cfg: cfg, svc: svc, ai: ai, limiter: limiter}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), MetricsMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/export/:kind", s.handleExport)

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/categories", s.handleCategories)
	api.GET("/categories/:category/numbers", s.handleAvailableNumbers)
	api.POST("/participants", s.handleRegister)
	api.GET("/roster", s.handleRoster)

	limited := api.Group("", RateLimiterMiddleware(s.limiter))
	limited.POST("/checkin", s.handleCheckIn)
	limited.POST("/recover", s.handleRecover)

	admin := api.Group("/admin", AdminMiddleware(s.cfg.AdminPassword))
	admin.GET("/participants", s.handleAdminParticipants)
	admin.DELETE("/participants/:id", s.handleDeleteParticipant)
	admin.GET("/race", s.handleRaceList)
	admin.DELETE("/race/entries/:id", s.handleRemoveEntry)
	admin.POST("/race/start", s.handleStartRace)
	admin.POST("/registration/toggle", s.handleToggleRegistration)
	admin.GET("/stats", s.handleStats)
	admin.POST("/analysis", s.handleAnalysis)
	admin.GET("/export-links", s.handleExportLinks)

	return r
}

// ExportToken signs an export kind with the export secret.
func ExportToken(secret, kind string) string {
	return util.HMACSHA256Hex(secret, "export:"+kind)
}

// ExportURL is the shareable download link for kind.
func ExportURL(cfg config.Config, kind string, f export.Format) string {
	q := url.Values{}
	q.Set("token", ExportToken(cfg.ExportSecret, kind))
	q.Set("format", string(f))
	return cfg.BasePublicURL + "/export/" + kind + "?" + q.Encode()
}

// BuildExport renders kind from the current state.
func BuildExport(svc *race.Service, kind string, f export.Format) (data []byte, filename string, err error) {
	var t export.Table
	switch kind {
	case ExportParticipants:
		t = export.Participants(svc.Snapshot().Participants)
		filename = export.ParticipantsFilename(f)
	case ExportRace:
		t = export.Race(svc.ListForSession(race.SortByRecency), nil)
		filename = export.RaceFilename(svc.RaceName(), f)
	default:
		return nil, "", race.ErrNotFound
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, t, f); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), filename, nil
}

func (s *Server) handleExport(c *gin.Context) {
	kind := c.Param("kind")
	token := c.Query("token")
	if token == "" {
		Error(c, http.StatusBadRequest, "token required")
		return
	}
	expected := ExportToken(s.cfg.ExportSecret, kind)
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		Error(c, http.StatusForbidden, "invalid token")
		return
	}
	f, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	data, filename, err := BuildExport(s.svc, kind, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, f.ContentType(), data)
}

// ---------- public ----------

func (s *Server) handleStatus(c *gin.Context) {
	Success(c, http.StatusOK, gin.H{
		"raceName":         s.svc.RaceName(),
		"registrationOpen": s.svc.RegistrationOpen(),
	})
}

type categoryInfo struct {
	Category  models.Category `json:"category"`
	Range     string          `json:"range"`
	Available int             `json:"available"`
}

func (s *Server) handleCategories(c *gin.Context) {
	out := make([]categoryInfo, 0, len(models.Categories))
	for _, cat := range models.Categories {
		out = append(out, categoryInfo{
			Category:  cat,
			Range:     race.RuleFor(cat).Describe(),
			Available: len(s.svc.AvailableNumbers(cat)),
		})
	}
	Success(c, http.StatusOK, out)
}

func (s *Server) handleAvailableNumbers(c *gin.Context) {
	cat, err := race.ParseCategory(c.Param("category"))
	if err != nil {
		Error(c, http.StatusNotFound, err.Error())
		return
	}
	Success(c, http.StatusOK, s.svc.AvailableNumbers(cat))
}

func (s *Server) handleRegister(c *gin.Context) {
	var cand race.Candidate
	if err := c.ShouldBindJSON(&cand); err != nil {
		Error(c, http.StatusBadRequest, "JSON inválido")
		return
	}
	p, err := s.svc.Register(c.Request.Context(), cand)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, http.StatusCreated, p)
}

func (s *Server) handleRoster(c *gin.Context) {
	var cat models.Category
	if raw := c.Query("category"); raw != "" {
		parsed, err := race.ParseCategory(raw)
		if err != nil {
			Error(c, http.StatusBadRequest, err.Error())
			return
		}
		cat = parsed
	}
	lines := s.svc.PublicRoster(c.Query("q"), cat)
	checked := 0
	for _, l := range lines {
		if l.CheckedIn {
			checked++
		}
	}
	Success(c, http.StatusOK, gin.H{
		"raceName":  s.svc.RaceName(),
		"total":     len(lines),
		"checkedIn": checked,
		"riders":    lines,
	})
}

type checkInRequest struct {
	AccessCode string `json:"accessCode" binding:"required"`
}

func (s *Server) handleCheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ValidationError(c, map[string]string{"accessCode": "required"})
		return
	}
	p, err := s.svc.FindByAccessCode(strings.TrimSpace(req.AccessCode))
	if err != nil {
		if errors.Is(err, race.ErrNotFound) {
			metrics.AccessCodeRejections.WithLabelValues("unknown").Inc()
		}
		respondError(c, err)
		return
	}
	entry, created, err := s.svc.CheckIn(c.Request.Context(), p.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	Success(c, status, gin.H{
		"participant": p,
		"entry":       entry,
		"created":     created,
		"raceName":    s.svc.RaceName(),
	})
}

type recoverRequest struct {
	FullName string `json:"fullName" binding:"required"`
	Phone    string `json:"phone" binding:"required"`
}

func (s *Server) handleRecover(c *gin.Context) {
	var req recoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ValidationError(c, map[string]string{"fullName": "required", "phone": "required"})
		return
	}
	p, err := s.svc.FindByNameAndPhone(req.FullName, req.Phone)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, http.StatusOK, gin.H{
		"fullName":   p.FullName,
		"motoNumber": p.MotoNumber,
		"accessCode": p.AccessCode,
	})
}

// ---------- admin ----------

func (s *Server) handleAdminParticipants(c *gin.Context) {
	var cat models.Category
	if raw := c.Query("category"); raw != "" {
		parsed, err := race.ParseCategory(raw)
		if err != nil {
			Error(c, http.StatusBadRequest, err.Error())
			return
		}
		cat = parsed
	}
	Success(c, http.StatusOK, s.svc.Search(c.Query("q"), cat, race.ParseSortMode(c.Query("sort"))))
}

func (s *Server) handleDeleteParticipant(c *gin.Context) {
	if err := s.svc.DeleteParticipant(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRaceList(c *gin.Context) {
	Success(c, http.StatusOK, gin.H{
		"raceName": s.svc.RaceName(),
		"entries":  s.svc.SearchSession(c.Query("q"), race.ParseSortMode(c.Query("sort"))),
	})
}

func (s *Server) handleRemoveEntry(c *gin.Context) {
	if err := s.svc.RemoveEntry(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type startRaceRequest struct {
	Name    string `json:"name"`
	Confirm bool   `json:"confirm"`
}

func (s *Server) handleStartRace(c *gin.Context) {
	var req startRaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "JSON inválido")
		return
	}
	if !req.Confirm {
		ValidationError(c, map[string]string{"confirm": "required"})
		return
	}
	if err := s.svc.StartRace(c.Request.Context(), req.Name); err != nil {
		respondError(c, err)
		return
	}
	Success(c, http.StatusOK, gin.H{"raceName": s.svc.RaceName()})
}

func (s *Server) handleToggleRegistration(c *gin.Context) {
	open, err := s.svc.ToggleRegistration(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, http.StatusOK, gin.H{"registrationOpen": open})
}

func (s *Server) handleStats(c *gin.Context) {
	Success(c, http.StatusOK, s.svc.Stats())
}

func (s *Server) handleAnalysis(c *gin.Context) {
	timeout := s.cfg.AITimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()
	text, ok := s.ai.Summarize(ctx, s.svc.Snapshot().Participants)
	Success(c, http.StatusOK, gin.H{"summary": text, "ok": ok})
}

func (s *Server) handleExportLinks(c *gin.Context) {
	links := gin.H{}
	for _, kind := range []string{ExportParticipants, ExportRace} {
		for _, f := range []export.Format{export.FormatCSV, export.FormatXLSX} {
			links[kind+"_"+strings.ToLower(string(f))] = ExportURL(s.cfg, kind, f)
		}
	}
	Success(c, http.StatusOK, links)
}
