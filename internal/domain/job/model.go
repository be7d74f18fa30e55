package job

import "time"

// Step is the phase of the processing state machine a job is in.
type Step string

const (
	StepPreprocessing          Step = "PREPROCESSING"
	StepPendingOnVisual        Step = "PENDING_ON_VISUAL"
	StepTranscoding            Step = "TRANSCODING"
	StepFlaggedForReprocessing Step = "FLAGGED_FOR_REPROCESSING"
	StepFailure                Step = "FAILURE"
)

// IsTerminal returns true for steps that never resume on their own.
func (s Step) IsTerminal() bool {
	return s == StepFailure
}

func (s Step) Valid() bool {
	switch s {
	case StepPreprocessing, StepPendingOnVisual, StepTranscoding, StepFlaggedForReprocessing, StepFailure:
		return true
	}
	return false
}

// StepDetails is the free-form, step-specific payload used to resume a job.
type StepDetails map[string]any

// OriginalVisualIDKey holds the id a PENDING_ON_VISUAL job waits on.
const OriginalVisualIDKey = "originalVisualId"

// String returns the value stored under key when it is a string.
func (d StepDetails) String(key string) string {
	if d == nil {
		return ""
	}
	value, _ := d[key].(string)
	return value
}

// Job is the persisted record of background work for one visual. There is at most one per visual.
type Job struct {
	VisualID    string      `json:"visualId"`
	Step        Step        `json:"step"`
	StepDetails StepDetails `json:"stepDetails,omitempty"`
	AccountID   string      `json:"accountId,omitempty"`
	Retries     int         `json:"retries"`
	Created     time.Time   `json:"created"`
	Updated     time.Time   `json:"updated"`
}

// IsFresh reports whether the job was touched within window of now.
func (j *Job) IsFresh(now time.Time, window time.Duration) bool {
	return now.Sub(j.Updated) < window
}
