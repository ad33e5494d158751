package domain

import "time"

// QuotaState mirrors the usage allowance reported by the generation service.
type QuotaState struct {
	MonthlyLimit  int       `json:"monthly_limit"`
	UsedThisMonth int       `json:"used_this_month"`
	Remaining     int       `json:"remaining"`
	ResetDate     time.Time `json:"reset_date"`
	HasQuota      bool      `json:"has_quota"`
}

// Normalize recomputes the derived fields from the limit and usage.
func (q QuotaState) Normalize() QuotaState {
	if q.UsedThisMonth < 0 {
		q.UsedThisMonth = 0
	}
	q.Remaining = q.MonthlyLimit - q.UsedThisMonth
	if q.Remaining < 0 {
		q.Remaining = 0
	}
	q.HasQuota = q.Remaining > 0
	return q
}
