// Package errors defines the closed set of errors raised by visual processing.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies a processing error variant.
type Kind string

const (
	// KindValidation covers bad identifiers and unsupported MIME types or codecs.
	KindValidation Kind = "validation"
	// KindJobInProgress means another replica holds a fresh job for the visual.
	KindJobInProgress Kind = "job_in_progress"
	// KindMaxRetries is terminal: the job was forced into FAILURE.
	KindMaxRetries Kind = "max_retries"
	// KindNotAVideo is the transient error raised while uploaded bytes are not yet visible.
	KindNotAVideo        Kind = "not_a_video"
	KindTranscodeFailed  Kind = "transcode_failed"
	KindTranscodeTimeout Kind = "transcode_timeout"
	// KindRestartNotPossible is raised when resume finds no job, a fresh job or an unknown step.
	KindRestartNotPossible Kind = "restart_not_possible"
	KindNoMatchingBackend  Kind = "no_matching_backend"
	KindNotFound           Kind = "not_found"
)

// ProcessingError is a tagged processing failure.
type ProcessingError struct {
	Kind     Kind           `json:"kind"`
	VisualID string         `json:"visual_id,omitempty"`
	Message  string         `json:"message"`
	Fields   map[string]any `json:"fields,omitempty"`
	Cause    error          `json:"-"`
}

func (e *ProcessingError) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.VisualID != "" {
		msg = fmt.Sprintf("%s: %s (visual %s)", e.Kind, e.Message, e.VisualID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	return msg
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is matches another ProcessingError of the same kind, so sentinel-style comparisons work.
func (e *ProcessingError) Is(target error) bool {
	var other *ProcessingError
	if errors.As(target, &other) {
		return other.Kind == e.Kind && other.VisualID == "" && other.Message == ""
	}
	return false
}

// WithCause adds an underlying cause to the error.
func (e *ProcessingError) WithCause(cause error) *ProcessingError {
	e.Cause = cause
	return e
}

// WithField attaches a structured field.
func (e *ProcessingError) WithField(key string, value any) *ProcessingError {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// New creates a processing error of the given kind.
func New(kind Kind, visualID, message string) *ProcessingError {
	return &ProcessingError{Kind: kind, VisualID: visualID, Message: message}
}

// KindOf returns the kind of the first ProcessingError in the chain, or "" when there is none.
func KindOf(err error) Kind {
	var procErr *ProcessingError
	if errors.As(err, &procErr) {
		return procErr.Kind
	}
	return ""
}

// IsKind reports whether err carries a ProcessingError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func Validation(message string) *ProcessingError {
	return New(KindValidation, "", message)
}

func JobInProgress(visualID string) *ProcessingError {
	return New(KindJobInProgress, visualID, "processing job already in progress")
}

func MaxRetries(visualID string, retries int) *ProcessingError {
	return New(KindMaxRetries, visualID, "max reprocessing retries reached").WithField("retries", retries)
}

func NotAVideo(visualID string) *ProcessingError {
	return New(KindNotAVideo, visualID, "source is not recognised as a video yet")
}

func TranscodeFailed(visualID, reason string) *ProcessingError {
	return New(KindTranscodeFailed, visualID, "transcode failed").WithField("reason", reason)
}

func TranscodeTimeout(visualID, encodingID string) *ProcessingError {
	return New(KindTranscodeTimeout, visualID, "transcode did not finish in time").WithField("encoding_id", encodingID)
}

func RestartNotPossible(visualID, reason string) *ProcessingError {
	return New(KindRestartNotPossible, visualID, reason)
}

func NoMatchingBackend(url string) *ProcessingError {
	return New(KindNoMatchingBackend, "", "no matching backend for url").WithField("url", url)
}

func NotFound(visualID, what string) *ProcessingError {
	return New(KindNotFound, visualID, what+" not found")
}
