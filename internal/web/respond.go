package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/conorfennell/recall/internal/progress"
	"github.com/conorfennell/recall/internal/scheduler"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// Error codes of the error envelope.
const (
	CodeBadRequest           = "BAD_REQUEST"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodeInternal             = "INTERNAL"
	CodeUnavailable          = "UNAVAILABLE"
)

// errInvalidOutput marks a response that failed its own contract check.
var errInvalidOutput = errors.New("response failed self-check")

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// requestError is a client error detected at the boundary.
type requestError struct {
	status  int
	code    string
	message string
}

func (e *requestError) Error() string { return e.code + ": " + e.message }

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, code: CodeBadRequest, message: msg}
}

func validationError(errs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed on the '%s' tag", fe.Namespace(), fe.Tag()))
	}
	return badRequest(strings.Join(msgs, "; "))
}

// statusFor maps an error onto an HTTP status and envelope code.
func statusFor(err error) (int, string, string) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status, reqErr.code, reqErr.message
	case errors.Is(err, scheduler.ErrNoCards),
		errors.Is(err, scheduler.ErrDuplicateCard),
		errors.Is(err, progress.ErrMissingGrade),
		errors.Is(err, progress.ErrMissingAssessment),
		errors.Is(err, progress.ErrUnknownAction),
		errors.Is(err, progress.ErrMissingCard):
		return http.StatusBadRequest, CodeBadRequest, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := statusFor(err)
	logger := s.logger.With("req_id", middleware.GetReqID(r.Context()), "status", status)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	} else {
		logger.Debug("request rejected", "error", err)
	}
	writeJSON(s.logger, w, status, errorResponse{Error: errorBody{Code: code, Message: msg}})
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debug("failed to write response body", "status", status, "error", err)
	}
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
}
