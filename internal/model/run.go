package model

import "time"

// RunStatus represents the status of a script run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusExited  RunStatus = "exited"
	RunStatusFailed  RunStatus = "failed"
)

// Run represents one execution of the shared script.
type Run struct {
	ID         string     `json:"id"`
	ScriptPath string     `json:"scriptPath"`
	Status     RunStatus  `json:"status"`
	ExitCode   *int       `json:"exitCode,omitempty"`
	PID        *int       `json:"pid,omitempty"`
	CastPath   string     `json:"castPath,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Duration returns how long the run has been (or was) executing.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}
