package handlers

import (
	"context"
	"net/http"
	"time"

	"studio/internal/domain"
)

const quotaRefreshTimeout = 5 * time.Second

type quotaResponse struct {
	domain.QuotaState
	Stale bool `json:"stale,omitempty"`
}

// Quota returns the caller's ledger. With ?refresh=1 it syncs with the
// service first and falls back to the cached value, flagged stale, when
// the service cannot be reached.
func (a *App) Quota(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if a.Controllers == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "generation is not configured")
		return
	}
	ctrl, err := a.Controllers.ForUser(userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if r.URL.Query().Get("refresh") != "1" {
		a.json(w, http.StatusOK, quotaResponse{QuotaState: ctrl.Quota()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), quotaRefreshTimeout)
	defer cancel()
	state, err := ctrl.SyncQuota(ctx)
	if err != nil {
		a.logger().Warn().Err(err).Str("user_id", userID).Msg("quota refresh failed, serving cached ledger")
		a.json(w, http.StatusOK, quotaResponse{QuotaState: state, Stale: true})
		return
	}
	a.json(w, http.StatusOK, quotaResponse{QuotaState: state})
}
