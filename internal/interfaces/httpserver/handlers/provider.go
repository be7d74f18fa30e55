package handlers

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"jan-server/services/visual-api/internal/config"
	"jan-server/services/visual-api/internal/domain/hls"
	"jan-server/services/visual-api/internal/domain/job"
	"jan-server/services/visual-api/internal/domain/processing"
	"jan-server/services/visual-api/internal/domain/visual"
)

// accountHeader carries the caller's account, set by the gateway in front of the service.
const accountHeader = "X-Account-Id"

// VisualService is the visual lifecycle used by the handlers.
type VisualService interface {
	Upload(ctx context.Context, req visual.UploadRequest) (*visual.Visual, bool, error)
	Get(ctx context.Context, binderID string, id visual.Identifier) (*visual.Visual, error)
	Duplicate(ctx context.Context, sourceBinderID string, sourceID visual.Identifier, targetBinderID string) (*visual.Visual, error)
	OpenFormat(ctx context.Context, binderID string, id visual.Identifier, formatType visual.FormatType, rng *visual.ByteRange) (*visual.FileStream, error)
	Delete(ctx context.Context, binderID string, ids ...visual.Identifier) error
}

// ProcessingService exposes job inspection and reprocessing.
type ProcessingService interface {
	Job(ctx context.Context, id visual.Identifier) (*job.Job, error)
	RestartVideoProcessing(ctx context.Context, id visual.Identifier, opts processing.RunOptions) error
	FlagForReprocessing(ctx context.Context, binderID string, id visual.Identifier, accountID string) (*job.Job, error)
	Process(ctx context.Context, binderID string, id visual.Identifier, accountID string, opts processing.RunOptions) error
}

// StreamingService serves HLS manifests and proxied segments.
type StreamingService interface {
	MasterManifest(ctx context.Context, v *visual.Visual) (string, error)
	Proxy(ctx context.Context, upstreamURL, token, allowedPrefix string) (*hls.Result, error)
}

// Provider wires HTTP handlers.
type Provider struct {
	Visual     *VisualHandler
	Processing *ProcessingHandler
	Streaming  *StreamingHandler
}

func NewProvider(cfg *config.Config, visuals VisualService, processor ProcessingService, streaming StreamingService, log zerolog.Logger) *Provider {
	return &Provider{
		Visual:     NewVisualHandler(cfg, visuals, log),
		Processing: NewProcessingHandler(processor, log),
		Streaming:  NewStreamingHandler(cfg, visuals, streaming, log),
	}
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
