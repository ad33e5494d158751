package domain

import "time"

// GenerationCounters aggregates terminal outcomes for one day. Remote and
// simulated successes are kept apart so telemetry never conflates them.
type GenerationCounters struct {
	Day                time.Time
	Submitted          int
	SubmissionFailed   int
	RemoteSucceeded    int
	SimulatedSucceeded int
	Failed             int
	TimedOut           int
	UpdatedAt          time.Time
}

// Counter keys accepted by AnalyticsRepository.IncrementCounters.
const (
	CounterSubmitted          = "submitted"
	CounterSubmissionFailed   = "submission_failed"
	CounterRemoteSucceeded    = "remote_succeeded"
	CounterSimulatedSucceeded = "simulated_succeeded"
	CounterFailed             = "failed"
	CounterTimedOut           = "timed_out"
)
