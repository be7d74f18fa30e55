package visual

import (
	"context"
	"encoding/json"
)

// Metadata is what a handler can tell about a local file.
type Metadata struct {
	Mime     string
	Width    int
	Height   int
	Size     int64
	Animated bool

	Codec    string
	Duration float64
	HasAudio bool
}

// Handler derives formats from a local copy of a visual.
type Handler interface {
	GetMetadata(ctx context.Context, path string) (*Metadata, error)
	// Resize writes a rendition of the given format and returns its path. ok is false when no
	// rendition is needed, e.g. the source already fits the bounding box.
	Resize(ctx context.Context, path string, metadata *Metadata, formatType FormatType) (out string, ok bool, err error)
}

// TranscodeState is the resumable progress of an in-flight transcode.
type TranscodeState struct {
	EncodingID       string         `json:"encodingId,omitempty"`
	ManifestPaths    []string       `json:"manifestPaths,omitempty"`
	ThumbnailFormats []VisualFormat `json:"thumbnailFormats,omitempty"`
	OutputContainer  string         `json:"outputContainer,omitempty"`
	Progress         int            `json:"progress,omitempty"`
}

// ToDetails flattens the state into a job step details payload.
func (s TranscodeState) ToDetails() map[string]any {
	raw, err := json.Marshal(s)
	if err != nil {
		return map[string]any{}
	}
	details := map[string]any{}
	if err := json.Unmarshal(raw, &details); err != nil {
		return map[string]any{}
	}
	return details
}

// TranscodeStateFromDetails reads back a state persisted with ToDetails. Unknown keys are ignored.
func TranscodeStateFromDetails(details map[string]any) (TranscodeState, error) {
	var state TranscodeState
	if len(details) == 0 {
		return state, nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return state, err
	}
	err = json.Unmarshal(raw, &state)
	return state, err
}

// ProgressFunc receives transcode progress. Returning an error aborts the transcode.
type ProgressFunc func(ctx context.Context, state TranscodeState) error

// TranscodeResult is the output of a finished transcode.
type TranscodeResult struct {
	StreamingInfo *StreamingInfo
	Formats       []VisualFormat
}

// TranscodeRequest tells the engine where to read the source and where to write outputs.
type TranscodeRequest struct {
	SourceURL       string
	OutputContainer string
}

// VideoHandler is the handler for video/* visuals.
type VideoHandler interface {
	Handler
	Screenshots(ctx context.Context, v *Visual, req TranscodeRequest) ([]VisualFormat, error)
	Transcode(ctx context.Context, v *Visual, req TranscodeRequest, progress ProgressFunc) (*TranscodeResult, error)
	WaitToCompleteTranscode(ctx context.Context, v *Visual, state TranscodeState, progress ProgressFunc) (*TranscodeResult, error)
}

// HandlerSelector returns the handler for a MIME type. Selection is a pure function of the MIME.
type HandlerSelector interface {
	ForMime(mime string) (Handler, error)
}
