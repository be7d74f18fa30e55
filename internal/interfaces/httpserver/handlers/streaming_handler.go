package handlers

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/visual-api/internal/config"
	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/interfaces/httpserver/responses"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// StreamingHandler serves HLS manifests and proxies their playlists and segments.
type StreamingHandler struct {
	cfg       *config.Config
	visuals   VisualService
	streaming StreamingService
	log       zerolog.Logger
}

func NewStreamingHandler(cfg *config.Config, visuals VisualService, streaming StreamingService, log zerolog.Logger) *StreamingHandler {
	return &StreamingHandler{
		cfg:       cfg,
		visuals:   visuals,
		streaming: streaming,
		log:       log.With().Str("component", "streaming-handler").Logger(),
	}
}

// Manifest godoc
// @Summary      Get the HLS master manifest of a video
// @Description  Every URL of the manifest is rewritten to go through the HLS proxy.
// @Tags         streaming
// @Produce      application/vnd.apple.mpegurl
// @Param        binderId  path  string  true  "Binder ID"
// @Param        visualId  path  string  true  "Visual ID"
// @Success      200  {string}  string  "rewritten playlist"
// @Failure      404  {object}  responses.ErrorResponse
// @Router       /v1/binders/{binderId}/visuals/{visualId}/manifest [get]
func (h *StreamingHandler) Manifest(c *gin.Context) {
	id, ok := parseVideoID(c)
	if !ok {
		return
	}
	v, err := h.visuals.Get(c.Request.Context(), c.Param("binderId"), id)
	if err != nil {
		responses.HandleError(c, err, "failed to load visual")
		return
	}
	playlist, err := h.streaming.MasterManifest(c.Request.Context(), v)
	if err != nil {
		responses.HandleError(c, err, "failed to load manifest")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, playlistContentType, []byte(playlist))
}

// Proxy godoc
// @Summary      Proxy an HLS playlist or segment
// @Description  url is the query-escaped absolute upstream URL, token the storage read token.
// @Tags         streaming
// @Param        url    path  string  true  "Escaped upstream URL"
// @Param        token  path  string  true  "Read token"
// @Success      200  "playlist or segment bytes"
// @Failure      400  {object}  responses.ErrorResponse
// @Router       /hlsProxy/{url}/{token} [get]
func (h *StreamingHandler) Proxy(c *gin.Context) {
	upstream, err := url.QueryUnescape(c.Param("url"))
	if err != nil {
		responses.HandleError(c, procerrors.Validation("malformed upstream url").WithCause(err), "invalid proxy url")
		return
	}
	result, err := h.streaming.Proxy(c.Request.Context(), upstream, c.Param("token"), h.cfg.HLSAllowedOrigin)
	if err != nil {
		responses.HandleError(c, err, "failed to proxy streaming object")
		return
	}

	if result.IsPlaylist() {
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, playlistContentType, []byte(result.Playlist))
		return
	}
	defer closeQuietly(result.Stream)

	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	length := result.ContentLength
	if length <= 0 {
		length = -1
	}
	c.DataFromReader(http.StatusOK, length, contentType, result.Stream, nil)
}
