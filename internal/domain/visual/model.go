package visual

import "time"

// Status is the lifecycle status of a Visual.
type Status string

const (
	StatusAccepted             Status = "ACCEPTED"
	StatusProcessing           Status = "PROCESSING"
	StatusProcessingBackground Status = "PROCESSING_BACKGROUND"
	StatusCompleted            Status = "COMPLETED"
	StatusError                Status = "ERROR"
)

// IsTerminal returns true once no further processing will happen automatically.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Usage tells whether the visual belongs to a document chunk or a reader comment.
type Usage string

const (
	UsageDocument      Usage = "DOCUMENT_CHUNK"
	UsageReaderComment Usage = "READER_COMMENT"
)

// VisualFormat is one derived rendition of a Visual.
type VisualFormat struct {
	FormatType      FormatType `json:"formatType"`
	Width           int        `json:"width"`
	Height          int        `json:"height"`
	Size            int64      `json:"size"`
	StorageLocation string     `json:"storageLocation"`
	Container       string     `json:"container,omitempty"`

	Codec    string  `json:"codec,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	HasAudio bool    `json:"hasAudio,omitempty"`

	// KeyFramePosition is the screenshot timestamp in seconds.
	KeyFramePosition *float64 `json:"keyFramePosition,omitempty"`
}

// OriginalVisualData points a duplicate at its canonical source visual.
type OriginalVisualData struct {
	BinderID string     `json:"binderId"`
	VisualID Identifier `json:"visualId"`
}

// StreamingInfo describes the adaptive streaming output of a video.
type StreamingInfo struct {
	ManifestPaths     []string `json:"manifestPaths"`
	StreamingHostname string   `json:"streamingHostname,omitempty"`
	ContentKeyID      string   `json:"contentKeyId,omitempty"`
}

// Visual is an image or a video owned by a binder (document).
type Visual struct {
	ID        Identifier `json:"id"`
	BinderID  string     `json:"binderId"`
	Filename  string     `json:"filename"`
	Extension string     `json:"extension"`
	MD5       string     `json:"md5"`
	Mime      string     `json:"mime"`
	Status    Status     `json:"status"`
	Usage     Usage      `json:"usage"`
	CommentID string     `json:"commentId,omitempty"`
	AccountID string     `json:"accountId,omitempty"`
	Created   time.Time  `json:"created"`

	Formats            []VisualFormat      `json:"formats"`
	OriginalVisualData *OriginalVisualData `json:"originalVisualData,omitempty"`
	StreamingInfo      *StreamingInfo      `json:"streamingInfo,omitempty"`

	AudioEnabled  *bool    `json:"audioEnabled,omitempty"`
	Rotation      *int     `json:"rotation,omitempty"`
	Fit           string   `json:"fit,omitempty"`
	LanguageCodes []string `json:"languageCodes,omitempty"`

	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func (v *Visual) IsVideo() bool { return v.ID.IsVideo() }

// IsDuplicate reports whether processing must defer to another visual.
func (v *Visual) IsDuplicate() bool { return v.OriginalVisualData != nil }

// Format returns the first format of the given type.
func (v *Visual) Format(formatType FormatType) (VisualFormat, bool) {
	for _, f := range v.Formats {
		if f.FormatType == formatType {
			return f, true
		}
	}
	return VisualFormat{}, false
}

// HasFormat reports whether a format of the given type exists.
func (v *Visual) HasFormat(formatType FormatType) bool {
	_, ok := v.Format(formatType)
	return ok
}

// Update is a partial update of a Visual. Nil fields are left untouched.
type Update struct {
	Status *Status
	// NewFormats are merged into the stored list with ReconcileFormats.
	NewFormats []VisualFormat
	// ReplaceFormats overwrites the stored list wholesale; applied before NewFormats.
	ReplaceFormats     *[]VisualFormat
	StreamingInfo      *StreamingInfo
	OriginalVisualData *OriginalVisualData
}

// StatusPtr is a convenience for building updates.
func StatusPtr(s Status) *Status { return &s }

// Apply returns a copy of v with the update applied.
func (u Update) Apply(v Visual) Visual {
	if u.Status != nil {
		v.Status = *u.Status
	}
	if u.ReplaceFormats != nil {
		v.Formats = append([]VisualFormat(nil), (*u.ReplaceFormats)...)
	}
	if len(u.NewFormats) > 0 {
		v.Formats = ReconcileFormats(v.Formats, u.NewFormats)
	}
	if u.StreamingInfo != nil {
		info := *u.StreamingInfo
		v.StreamingInfo = &info
	}
	if u.OriginalVisualData != nil {
		ref := *u.OriginalVisualData
		v.OriginalVisualData = &ref
	}
	return v
}
