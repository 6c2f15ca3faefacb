package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/iepose/aigcd/internal/domain"
	"github.com/iepose/aigcd/internal/gateway"
)

// App bundles the dependencies handlers need.
type App struct {
	Gateway *gateway.Gateway
	Ledger  domain.Ledger
	Logger  zerolog.Logger

	LongPollTimeout    time.Duration
	LongPollMaxTimeout time.Duration
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, map[string]any{"error": errCode, "message": msg})
}

// domainError maps subsystem errors onto transport codes in one place, so
// no handler ever switches on error kinds itself.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "no such inference")
	case errors.Is(err, domain.ErrUnknownJobType):
		a.error(w, http.StatusBadRequest, "bad_request", "unknown inference type")
	case errors.Is(err, domain.ErrNoActiveGrant):
		a.error(w, http.StatusPaymentRequired, "no_active_grant", "no active magic point grant")
	case errors.Is(err, domain.ErrInsufficientCredit):
		a.error(w, http.StatusPaymentRequired, "insufficient_credit", "not enough magic points")
	case errors.Is(err, domain.ErrAlreadyInProgress):
		a.error(w, http.StatusConflict, "already_in_progress", "inference already in progress")
	case errors.Is(err, domain.ErrAlreadyComplete):
		a.error(w, http.StatusConflict, "already_complete", "inference already complete")
	default:
		a.Logger.Error().Err(err).Msg("handlers: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
