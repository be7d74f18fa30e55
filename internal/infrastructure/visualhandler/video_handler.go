package visualhandler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"jan-server/services/visual-api/internal/config"
	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/domain/visual"
)

// Encoding states reported by the transcoding engine.
const (
	encodingQueued   = "QUEUED"
	encodingRunning  = "RUNNING"
	encodingFinished = "FINISHED"
	encodingFailed   = "FAILED"
)

const codeNotAVideo = "NOT_A_VIDEO"

// VideoHandler talks to the external transcoding engine. The engine reads the source through a
// signed URL and writes its outputs into the container it is given.
type VideoHandler struct {
	httpClient   *resty.Client
	log          zerolog.Logger
	pollInterval time.Duration
	warnAfter    time.Duration
	maxWait      time.Duration
	now          func() time.Time
}

func NewVideoHandler(cfg *config.Config, log zerolog.Logger) *VideoHandler {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.TranscoderURL, "/")).
		SetHeader("User-Agent", "Jan-Visual-API/1.0").
		SetTimeout(cfg.TranscoderTimeout)
	if cfg.TranscoderAPIKey != "" {
		client.SetHeader("X-API-Key", cfg.TranscoderAPIKey)
	}

	h := &VideoHandler{
		httpClient:   client,
		log:          log.With().Str("component", "video-handler").Logger(),
		pollInterval: cfg.TranscodePollInterval,
		warnAfter:    cfg.TranscodeWarnAfter,
		maxWait:      cfg.TranscodeMaxWait,
		now:          time.Now,
	}
	if h.pollInterval <= 0 {
		h.pollInterval = 5 * time.Second
	}
	if h.warnAfter <= 0 {
		h.warnAfter = 5 * time.Minute
	}
	if h.maxWait <= 0 {
		h.maxWait = 20 * time.Minute
	}
	return h
}

type engineFormat struct {
	FormatType       string   `json:"formatType"`
	Width            int      `json:"width"`
	Height           int      `json:"height"`
	Size             int64    `json:"size"`
	StorageLocation  string   `json:"storageLocation"`
	Container        string   `json:"container,omitempty"`
	Codec            string   `json:"codec,omitempty"`
	Duration         float64  `json:"duration,omitempty"`
	HasAudio         bool     `json:"hasAudio,omitempty"`
	KeyFramePosition *float64 `json:"keyFramePosition,omitempty"`
}

type engineError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type screenshotRequest struct {
	VisualID        string `json:"visualId"`
	SourceURL       string `json:"sourceUrl"`
	OutputContainer string `json:"outputContainer"`
}

type screenshotResponse struct {
	Formats []engineFormat `json:"formats"`
}

type encodingRequest struct {
	VisualID        string `json:"visualId"`
	SourceURL       string `json:"sourceUrl"`
	OutputContainer string `json:"outputContainer"`
	AudioEnabled    *bool  `json:"audioEnabled,omitempty"`
	Rotation        *int   `json:"rotation,omitempty"`
}

type encodingResponse struct {
	EncodingID string `json:"encodingId"`
}

type encodingStatus struct {
	EncodingID        string         `json:"encodingId"`
	Status            string         `json:"status"`
	Progress          int            `json:"progress"`
	ManifestPaths     []string       `json:"manifestPaths"`
	StreamingHostname string         `json:"streamingHostname"`
	ContentKeyID      string         `json:"contentKeyId"`
	Formats           []engineFormat `json:"formats"`
	Error             string         `json:"error"`
}

func (h *VideoHandler) GetMetadata(_ context.Context, path string) (*visual.Metadata, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect mime: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &visual.Metadata{Mime: mt.String(), Size: info.Size()}, nil
}

// Resize is not supported for videos; renditions come out of the transcode.
func (h *VideoHandler) Resize(context.Context, string, *visual.Metadata, visual.FormatType) (string, bool, error) {
	return "", false, nil
}

// Screenshots asks the engine for the screenshot renditions. An engine that cannot read the source
// as a video yet answers NOT_A_VIDEO, which surfaces as the transient NotAVideo error.
func (h *VideoHandler) Screenshots(ctx context.Context, v *visual.Visual, req visual.TranscodeRequest) ([]visual.VisualFormat, error) {
	var out screenshotResponse
	var apiErr engineError
	resp, err := h.httpClient.R().
		SetContext(ctx).
		SetBody(screenshotRequest{VisualID: v.ID.String(), SourceURL: req.SourceURL, OutputContainer: req.OutputContainer}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/screenshots")
	if err != nil {
		return nil, fmt.Errorf("screenshot request: %w", err)
	}
	if resp.IsError() {
		if apiErr.Code == codeNotAVideo {
			return nil, procerrors.NotAVideo(v.ID.String())
		}
		return nil, fmt.Errorf("screenshot request failed with status %d: %s", resp.StatusCode(), apiErr.Message)
	}

	formats := make([]visual.VisualFormat, 0, len(out.Formats))
	for _, f := range out.Formats {
		ft := visual.FormatType(f.FormatType)
		if !ft.IsScreenshot() {
			continue
		}
		formats = append(formats, toVisualFormat(f, req.OutputContainer))
	}
	return formats, nil
}

// Transcode starts an encoding, reports its id so the job can re-attach later, and waits for it.
func (h *VideoHandler) Transcode(ctx context.Context, v *visual.Visual, req visual.TranscodeRequest, progress visual.ProgressFunc) (*visual.TranscodeResult, error) {
	var out encodingResponse
	var apiErr engineError
	resp, err := h.httpClient.R().
		SetContext(ctx).
		SetBody(encodingRequest{
			VisualID:        v.ID.String(),
			SourceURL:       req.SourceURL,
			OutputContainer: req.OutputContainer,
			AudioEnabled:    v.AudioEnabled,
			Rotation:        v.Rotation,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/encodings")
	if err != nil {
		return nil, fmt.Errorf("start encoding: %w", err)
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusUnprocessableEntity {
			return nil, procerrors.TranscodeFailed(v.ID.String(), apiErr.Message)
		}
		return nil, fmt.Errorf("start encoding failed with status %d: %s", resp.StatusCode(), apiErr.Message)
	}
	if out.EncodingID == "" {
		return nil, fmt.Errorf("engine returned no encoding id")
	}

	state := visual.TranscodeState{EncodingID: out.EncodingID, OutputContainer: req.OutputContainer}
	if progress != nil {
		if err := progress(ctx, state); err != nil {
			return nil, fmt.Errorf("persist encoding id: %w", err)
		}
	}
	h.log.Info().Str("visual_id", v.ID.String()).Str("encoding_id", out.EncodingID).Msg("encoding started")
	return h.WaitToCompleteTranscode(ctx, v, state, progress)
}

// WaitToCompleteTranscode polls the encoding until it finishes. Progress changes are reported,
// a warning is logged once the wait gets long, and the wait gives up with TranscodeTimeout.
func (h *VideoHandler) WaitToCompleteTranscode(ctx context.Context, v *visual.Visual, state visual.TranscodeState, progress visual.ProgressFunc) (*visual.TranscodeResult, error) {
	log := h.log.With().Str("visual_id", v.ID.String()).Str("encoding_id", state.EncodingID).Logger()
	started := h.now()
	warned := false

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		status, err := h.encodingStatus(ctx, state.EncodingID)
		if err != nil {
			log.Warn().Err(err).Msg("failed to poll encoding status")
		} else {
			switch status.Status {
			case encodingFinished:
				return h.result(status, state), nil
			case encodingFailed:
				return nil, procerrors.TranscodeFailed(v.ID.String(), status.Error)
			case encodingQueued, encodingRunning:
				if status.Progress != state.Progress || len(status.ManifestPaths) > len(state.ManifestPaths) {
					state.Progress = status.Progress
					if len(status.ManifestPaths) > 0 {
						state.ManifestPaths = status.ManifestPaths
					}
					if progress != nil {
						if err := progress(ctx, state); err != nil {
							return nil, err
						}
					}
				}
			default:
				log.Warn().Str("status", status.Status).Msg("unknown encoding status")
			}
		}

		elapsed := h.now().Sub(started)
		if elapsed >= h.maxWait {
			return nil, procerrors.TranscodeTimeout(v.ID.String(), state.EncodingID)
		}
		if !warned && elapsed >= h.warnAfter {
			warned = true
			log.Warn().Dur("elapsed", elapsed).Int("progress", state.Progress).Msg("encoding is taking longer than expected")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *VideoHandler) encodingStatus(ctx context.Context, encodingID string) (*encodingStatus, error) {
	var out encodingStatus
	var apiErr engineError
	resp, err := h.httpClient.R().
		SetContext(ctx).
		SetPathParam("encodingId", encodingID).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v1/encodings/{encodingId}")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("encoding status failed with status %d: %s", resp.StatusCode(), apiErr.Message)
	}
	return &out, nil
}

// result maps a finished encoding. Only renditions and screenshots are taken from the engine.
func (h *VideoHandler) result(status *encodingStatus, state visual.TranscodeState) *visual.TranscodeResult {
	manifests := status.ManifestPaths
	if len(manifests) == 0 {
		manifests = state.ManifestPaths
	}
	formats := make([]visual.VisualFormat, 0, len(status.Formats)+len(state.ThumbnailFormats))
	for _, f := range status.Formats {
		ft := visual.FormatType(f.FormatType)
		if !ft.IsVideoRendition() && !ft.IsScreenshot() {
			continue
		}
		formats = append(formats, toVisualFormat(f, state.OutputContainer))
	}
	formats = append(formats, state.ThumbnailFormats...)

	return &visual.TranscodeResult{
		StreamingInfo: &visual.StreamingInfo{
			ManifestPaths:     manifests,
			StreamingHostname: status.StreamingHostname,
			ContentKeyID:      status.ContentKeyID,
		},
		Formats: formats,
	}
}

func toVisualFormat(f engineFormat, container string) visual.VisualFormat {
	if f.Container == "" {
		f.Container = container
	}
	return visual.VisualFormat{
		FormatType:       visual.FormatType(f.FormatType),
		Width:            f.Width,
		Height:           f.Height,
		Size:             f.Size,
		StorageLocation:  f.StorageLocation,
		Container:        f.Container,
		Codec:            f.Codec,
		Duration:         f.Duration,
		HasAudio:         f.HasAudio,
		KeyFramePosition: f.KeyFramePosition,
	}
}
