// Package streaming fetches HLS playlists and segments from the streaming origin.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/domain/hls"
	"jan-server/services/visual-api/internal/infrastructure/metrics"
	"jan-server/services/visual-api/internal/utils/redact"
)

// Fetcher is an HTTP client for the streaming origin. Bodies are handed back unread so segments
// stream straight through to the caller.
type Fetcher struct {
	httpClient *resty.Client
	log        zerolog.Logger
}

func NewFetcher(timeout time.Duration, log zerolog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetHeader("User-Agent", "Jan-Visual-API/1.0").
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	return &Fetcher{
		httpClient: client,
		log:        log.With().Str("component", "hls-fetcher").Logger(),
	}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (_ *hls.Upstream, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.RecordStorageOperation("hls", "fetch", status, time.Since(start).Seconds())
	}()

	resp, err := f.httpClient.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("fetch streaming object %s: %w", redact.URL(rawURL), err)
	}
	body := resp.RawBody()
	if resp.StatusCode() == http.StatusNotFound {
		body.Close()
		return nil, procerrors.NotFound("", "streaming object")
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		body.Close()
		f.log.Warn().Str("url", redact.URL(rawURL)).Int("status", resp.StatusCode()).Msg("streaming origin rejected request")
		return nil, fmt.Errorf("streaming origin answered %d", resp.StatusCode())
	}
	return &hls.Upstream{
		Body:          body,
		ContentType:   resp.Header().Get("Content-Type"),
		ContentLength: resp.RawResponse.ContentLength,
	}, nil
}
