// Package api provides HTTP handlers for the arena API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/emperor-arena/internal/debate"
	"github.com/ashureev/emperor-arena/internal/domain"
	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes   = 1 << 16
	maxRoundBudget = 20
)

// SessionController is the command surface of a debate session.
type SessionController interface {
	Snapshot() domain.Session
	SetTopic(topic string)
	SetParticipants(p domain.Participants)
	SetMaxRounds(n int)
	Start() error
	Continue(ctx context.Context) error
	Reset()
}

// TranscriptReader serves archived transcripts.
type TranscriptReader interface {
	GetTranscript(ctx context.Context, id string) (*domain.Transcript, error)
	ListTranscripts(ctx context.Context, limit int) ([]domain.TranscriptSummary, error)
}

// Handler serves the session, character and transcript routes.
type Handler struct {
	controller  SessionController
	transcripts TranscriptReader
	characters  []domain.Character
	logger      *slog.Logger
}

// NewHandler creates a Handler. transcripts may be nil when the archive is
// disabled.
func NewHandler(controller SessionController, transcripts TranscriptReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		controller:  controller,
		transcripts: transcripts,
		characters:  domain.DefaultCharacters(),
		logger:      logger,
	}
}

// RegisterRoutes mounts the API. Command routes pass through limit when it
// is non-nil.
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/session", h.GetSession)
		r.Get("/characters", h.ListCharacters)
		r.Get("/transcripts", h.ListTranscripts)
		r.Get("/transcripts/{id}", h.GetTranscript)

		r.Group(func(r chi.Router) {
			if limit != nil {
				r.Use(limit)
			}
			r.Put("/session/topic", h.SetTopic)
			r.Put("/session/participants", h.SetParticipants)
			r.Put("/session/max_rounds", h.SetMaxRounds)
			r.Post("/session/start", h.Start)
			r.Post("/session/continue", h.Continue)
			r.Post("/session/reset", h.Reset)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type sessionResponse struct {
	Session domain.Session `json:"session"`
	Error   *errorBody     `json:"error,omitempty"`
}

// statusFor maps a rejected command to an HTTP status.
func statusFor(err error) int {
	switch debate.KindOf(err) {
	case debate.KindValidation:
		return http.StatusUnprocessableEntity
	case debate.KindState:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// writeSession responds with the current snapshot and, when err is set,
// the reason the command was rejected.
func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, err error) {
	resp := sessionResponse{Session: h.controller.Snapshot()}
	if err == nil {
		JSON(w, http.StatusOK, resp)
		return
	}
	var derr *debate.Error
	if errors.As(err, &derr) {
		resp.Error = &errorBody{Kind: string(derr.Kind), Message: derr.Message}
	} else {
		resp.Error = &errorBody{Message: err.Error()}
	}
	h.logger.Info("Session command rejected",
		"path", r.URL.Path,
		"kind", resp.Error.Kind,
		"error", resp.Error.Message,
	)
	JSON(w, statusFor(err), resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// GetSession returns the current snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.writeSession(w, r, nil)
}

type topicRequest struct {
	Topic string `json:"topic"`
}

// SetTopic records the debate topic.
func (h *Handler) SetTopic(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.controller.SetTopic(strings.TrimSpace(req.Topic))
	h.writeSession(w, r, nil)
}

// SetParticipants records the character for each seat.
func (h *Handler) SetParticipants(w http.ResponseWriter, r *http.Request) {
	var req domain.Participants
	if !decodeBody(w, r, &req) {
		return
	}
	h.controller.SetParticipants(domain.Participants{
		Proposer:   strings.TrimSpace(req.Proposer),
		Challenger: strings.TrimSpace(req.Challenger),
		Arbitrator: strings.TrimSpace(req.Arbitrator),
	})
	h.writeSession(w, r, nil)
}

type maxRoundsRequest struct {
	MaxRounds int `json:"max_rounds"`
}

// SetMaxRounds sets the round budget.
func (h *Handler) SetMaxRounds(w http.ResponseWriter, r *http.Request) {
	var req maxRoundsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MaxRounds <= 0 || req.MaxRounds > maxRoundBudget {
		Error(w, http.StatusBadRequest, "max_rounds must be between 1 and 20")
		return
	}
	h.controller.SetMaxRounds(req.MaxRounds)
	h.writeSession(w, r, nil)
}

// Start opens a debate stream.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.writeSession(w, r, h.controller.Start())
}

// Continue resumes a paused debate. The continuation outlives a dropped
// client; the controller applies its own timeout.
func (h *Handler) Continue(w http.ResponseWriter, r *http.Request) {
	err := h.controller.Continue(context.WithoutCancel(r.Context()))
	h.writeSession(w, r, err)
}

// Reset returns the session to idle.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.controller.Reset()
	h.writeSession(w, r, nil)
}

// ListCharacters returns the character catalog.
func (h *Handler) ListCharacters(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.characters)
}

// ListTranscripts returns recent archived debates.
func (h *Handler) ListTranscripts(w http.ResponseWriter, r *http.Request) {
	if h.transcripts == nil {
		Error(w, http.StatusNotFound, "transcript archive is disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	list, err := h.transcripts.ListTranscripts(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list transcripts", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}
	JSON(w, http.StatusOK, list)
}

// GetTranscript returns one archived debate.
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	if h.transcripts == nil {
		Error(w, http.StatusNotFound, "transcript archive is disabled")
		return
	}
	id := chi.URLParam(r, "id")
	t, err := h.transcripts.GetTranscript(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load transcript", "transcript_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	if t == nil {
		Error(w, http.StatusNotFound, "transcript not found")
		return
	}
	JSON(w, http.StatusOK, t)
}
