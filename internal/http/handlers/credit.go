package handlers

import (
	"net/http"
	"time"

	"github.com/iepose/aigcd/internal/middleware"
)

type creditResponse struct {
	Kind      string     `json:"kind"`
	Init      int        `json:"init"`
	Remains   int        `json:"remains"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Credit handles GET /me/credit: a snapshot of the caller's active grant.
func (a *App) Credit(w http.ResponseWriter, r *http.Request) {
	ses, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	grant, err := a.Ledger.CurrentGrant(r.Context(), ses.UID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, creditResponse{
		Kind:      string(grant.Kind),
		Init:      grant.Init,
		Remains:   grant.Remains,
		ExpiresAt: grant.ExpiresAt,
	})
}
