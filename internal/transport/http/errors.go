package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"assessment-engine/internal/domain"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: ErrSessionClosed also matches ErrSessionNotActive.
var errorMappings = []errorMapping{
	{domain.ErrInvalidDuration, http.StatusBadRequest, "invalid_duration"},
	{domain.ErrUnknownQuestion, http.StatusBadRequest, "unknown_question"},
	{domain.ErrInvalidChoice, http.StatusBadRequest, "invalid_choice"},
	{domain.ErrInvalidAssessment, http.StatusBadRequest, "invalid_assessment"},
	{domain.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{domain.ErrAssessmentNotFound, http.StatusNotFound, "assessment_not_found"},
	{domain.ErrAlreadyStarted, http.StatusConflict, "already_started"},
	{domain.ErrSessionClosed, http.StatusConflict, "session_closed"},
	{domain.ErrSessionNotActive, http.StatusConflict, "session_not_active"},
	{domain.ErrRecordNotReady, http.StatusConflict, "record_not_ready"},
}

var (
	errInvalidRequest     = errors.New("invalid request")
	errUnsupportedMessage = fmt.Errorf("%w: unsupported message type", errInvalidRequest)
)

// classify returns the HTTP status and stable code for err.
func classify(err error) (int, string) {
	if errors.Is(err, errInvalidRequest) {
		return http.StatusBadRequest, "invalid_request"
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
