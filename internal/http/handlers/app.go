package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"studio/internal/domain"
	"studio/internal/generation"
	"studio/internal/infra"
	"studio/internal/middleware"

	"github.com/rs/zerolog"
)

// App carries the dependencies shared by every handler.
type App struct {
	Config      *infra.Config
	Logger      *infra.Logger
	SQL         infra.SQLExecutor
	Controllers *generation.Registry
	Board       *generation.Board
	Analytics   domain.AnalyticsRepository
	JWTSecret   string
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) logger() *infra.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	discard := zerolog.New(io.Discard)
	l := infra.Logger(discard)
	return &l
}

// fail writes err as a JSON error with a localized message.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := generation.UserMessage(err, middleware.LocaleFromContext(r.Context()))
	if status >= http.StatusInternalServerError {
		a.logger().Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	if status == http.StatusBadRequest || status == http.StatusNotFound {
		message = err.Error()
	}
	a.error(w, status, code, message)
}

func statusFor(err error) (int, string) {
	var (
		network *domain.NetworkError
		failed  *domain.JobFailedError
	)
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusPaymentRequired, "quota_exceeded"
	case errors.Is(err, domain.ErrGenerationInFlight):
		return http.StatusConflict, "in_flight"
	case errors.Is(err, generation.ErrSuperseded):
		return http.StatusConflict, "superseded"
	case errors.Is(err, generation.ErrNothingToReconcile):
		return http.StatusConflict, "nothing_to_reconcile"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.As(err, &failed):
		return http.StatusUnprocessableEntity, failed.Code
	case errors.As(err, &network):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, generation.ErrRegistryClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
