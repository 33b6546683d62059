package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"assessment-engine/internal/app"
	"assessment-engine/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Handler exposes the engine's session operations as JSON over HTTP.
type Handler struct {
	engine   *app.Engine
	validate *validator.Validate
	log      zerolog.Logger
}

func NewHandler(engine *app.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		engine:   engine,
		validate: validator.New(),
		log:      log.With().Str("component", "http").Logger(),
	}
}

// createSessionRequest either names a stored assessment or carries the content inline.
type createSessionRequest struct {
	AssessmentID    string            `json:"assessmentId" validate:"required_without=Questions"`
	Questions       []domain.Question `json:"questions"`
	AnswerKey       domain.AnswerKey  `json:"answerKey"`
	DurationSeconds int               `json:"durationSeconds"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type answerRequest struct {
	Label string `json:"label" validate:"required"`
}

type navigateRequest struct {
	Index *int `json:"index" validate:"required"`
}

type reviewRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type submitResponse struct {
	SessionID string                `json:"sessionId"`
	Score     domain.ScoreBreakdown `json:"score"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		id  string
		err error
	)
	if len(req.Questions) == 0 {
		id, err = h.engine.CreateFromAssessment(r.Context(), req.AssessmentID)
	} else {
		id, err = h.engine.CreateSession(r.Context(), app.CreateSessionInput{
			AssessmentID:    req.AssessmentID,
			Questions:       req.Questions,
			AnswerKey:       req.AnswerKey,
			DurationSeconds: req.DurationSeconds,
		})
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: id})
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.Start(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, view, err)
}

func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.engine.Answer(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "questionId"), req.Label)
	h.respond(w, r, view, err)
}

func (h *Handler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.engine.Navigate(r.Context(), chi.URLParam(r, "id"), *req.Index)
	h.respond(w, r, view, err)
}

func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.Next(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, view, err)
}

func (h *Handler) Previous(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.Previous(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, view, err)
}

func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.engine.SetReview(r.Context(), chi.URLParam(r, "id"), *req.Enabled)
	h.respond(w, r, view, err)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	score, err := h.engine.Submit(r.Context(), id)
	h.respond(w, r, submitResponse{SessionID: id, Score: score}, err)
}

func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.GetState(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, view, err)
}

func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Record(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, rec, err)
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Release(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}
