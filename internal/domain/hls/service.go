package hls

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/utils/redact"
)

// maxPlaylistBytes bounds how much of a playlist is buffered for rewriting.
const maxPlaylistBytes = 4 << 20

// Upstream is a fetched streaming object.
type Upstream struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// Fetcher retrieves streaming objects over HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Upstream, error)
}

// TokenSource issues read tokens (SAS query strings) for a streaming container.
type TokenSource interface {
	ContainerToken(ctx context.Context, container string) (string, error)
}

// Result is either a rewritten playlist or a pass-through segment stream.
type Result struct {
	Playlist      string
	Stream        io.ReadCloser
	ContentType   string
	ContentLength int64
}

func (r *Result) IsPlaylist() bool { return r.Stream == nil }

// Service serves HLS playlists and segments through the proxy without exposing storage tokens
// in raw storage URLs.
type Service struct {
	fetcher   Fetcher
	tokens    TokenSource
	proxyBase string
	log       zerolog.Logger
}

func NewService(fetcher Fetcher, tokens TokenSource, proxyBase string, log zerolog.Logger) *Service {
	return &Service{
		fetcher:   fetcher,
		tokens:    tokens,
		proxyBase: strings.TrimSuffix(proxyBase, "/"),
		log:       log.With().Str("component", "hls-service").Logger(),
	}
}

// MasterManifest fetches the first manifest of a video and returns it rewritten for the proxy.
func (s *Service) MasterManifest(ctx context.Context, v *visual.Visual) (string, error) {
	info := v.StreamingInfo
	if info == nil || len(info.ManifestPaths) == 0 || info.StreamingHostname == "" {
		return "", procerrors.NotFound(v.ID.String(), "streaming manifest")
	}
	manifestPath := strings.TrimPrefix(info.ManifestPaths[0], "/")
	container, _, ok := strings.Cut(manifestPath, "/")
	if !ok || container == "" {
		return "", fmt.Errorf("manifest path %q has no container", manifestPath)
	}
	token, err := s.tokens.ContainerToken(ctx, container)
	if err != nil {
		return "", err
	}
	manifestURL := strings.TrimSuffix(info.StreamingHostname, "/") + "/" + manifestPath
	return s.fetchPlaylist(ctx, manifestURL, token)
}

// Proxy fetches an upstream URL produced by RewriteManifest. allowedPrefix restricts which
// upstreams may be reached.
func (s *Service) Proxy(ctx context.Context, upstreamURL, token, allowedPrefix string) (*Result, error) {
	parsed, err := url.Parse(upstreamURL)
	if err != nil || !parsed.IsAbs() {
		return nil, procerrors.Validation(fmt.Sprintf("invalid upstream url %q", upstreamURL))
	}
	if allowedPrefix != "" && !strings.HasPrefix(upstreamURL, allowedPrefix) {
		return nil, procerrors.Validation("upstream url is not a streaming location")
	}

	if IsPlaylist(upstreamURL, "") {
		playlist, err := s.fetchPlaylist(ctx, upstreamURL, token)
		if err != nil {
			return nil, err
		}
		return &Result{Playlist: playlist, ContentType: "application/vnd.apple.mpegurl"}, nil
	}

	upstream, err := s.fetcher.Fetch(ctx, AddTokenToURL(upstreamURL, token))
	if err != nil {
		return nil, err
	}
	return &Result{
		Stream:        upstream.Body,
		ContentType:   upstream.ContentType,
		ContentLength: upstream.ContentLength,
	}, nil
}

func (s *Service) fetchPlaylist(ctx context.Context, manifestURL, token string) (string, error) {
	upstream, err := s.fetcher.Fetch(ctx, AddTokenToURL(manifestURL, token))
	if err != nil {
		return "", err
	}
	defer upstream.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(upstream.Body, maxPlaylistBytes))
	if err != nil {
		return "", fmt.Errorf("read playlist: %w", err)
	}
	rewritten, err := RewriteManifest(string(raw), manifestURL, token, s.proxyBase)
	if err != nil {
		return "", fmt.Errorf("rewrite playlist: %w", err)
	}
	s.log.Debug().Str("manifest_url", redact.URL(manifestURL)).Str("token_fp", redact.Fingerprint(token)).Int("bytes", len(raw)).Msg("playlist rewritten")
	return rewritten, nil
}
