package dispatch

import (
	"sync"
	"time"

	"speech-relay-service/internal/service/segment"
	"speech-relay-service/internal/service/stt"
)

// Status represents the lifecycle of a transcription job.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Job is one utterance handed to the transcription backend.
type Job struct {
	ID        string
	SessionID string
	// Seq is the submission order within the session, starting at 1.
	Seq         uint64
	StartFrame  uint64
	EndFrame    uint64
	Reason      segment.Reason
	Bytes       int
	SubmittedAt time.Time

	audio stt.Audio

	mu         sync.Mutex
	status     Status
	startedAt  time.Time
	finishedAt time.Time
}

// Status returns the current job status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Duration returns how long the backend call took, or zero if unfinished.
func (j *Job) Duration() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.startedAt.IsZero() || j.finishedAt.IsZero() {
		return 0
	}
	return j.finishedAt.Sub(j.startedAt)
}

func (j *Job) setStatus(s Status, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = s
	switch s {
	case StatusRunning:
		j.startedAt = at
	case StatusCompleted, StatusFailed:
		j.finishedAt = at
	}
}

// Result is the outcome of one job. Err is nil on success.
type Result struct {
	Job        *Job
	Transcript stt.Transcript
	Err        error
}
