package handlers

import (
	"errors"
	"net/http"

	"studio/internal/domain"
)

// StatsSummary reports the counters of the most recent day. Remote and
// simulated successes are listed separately.
func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	if a.Analytics == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "analytics is not configured")
		return
	}
	summary, err := a.Analytics.GetSummary(r.Context())
	if errors.Is(err, domain.ErrNotFound) {
		summary = &domain.GenerationCounters{}
	} else if err != nil {
		a.logger().Error().Err(err).Msg("stats: load counters")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	day := ""
	if !summary.Day.IsZero() {
		day = summary.Day.Format("2006-01-02")
	}
	a.json(w, http.StatusOK, map[string]any{
		"day":                 day,
		"submitted":           summary.Submitted,
		"submission_failed":   summary.SubmissionFailed,
		"remote_succeeded":    summary.RemoteSucceeded,
		"simulated_succeeded": summary.SimulatedSucceeded,
		"failed":              summary.Failed,
		"timed_out":           summary.TimedOut,
	})
}
