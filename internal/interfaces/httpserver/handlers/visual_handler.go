package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/visual-api/internal/config"
	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/infrastructure/metrics"
	"jan-server/services/visual-api/internal/interfaces/httpserver/requests"
	"jan-server/services/visual-api/internal/interfaces/httpserver/responses"
)

// multipartOverhead leaves room for part headers and form fields on top of the file itself.
const multipartOverhead = 1 << 20

// VisualHandler exposes upload, lookup, duplication and format delivery.
type VisualHandler struct {
	cfg     *config.Config
	service VisualService
	log     zerolog.Logger
}

func NewVisualHandler(cfg *config.Config, service VisualService, log zerolog.Logger) *VisualHandler {
	return &VisualHandler{
		cfg:     cfg,
		service: service,
		log:     log.With().Str("component", "visual-handler").Logger(),
	}
}

// Upload godoc
// @Summary      Upload a visual
// @Description  Stores the original bytes of an image or video and starts background processing.
// @Tags         visuals
// @Accept       multipart/form-data
// @Produce      json
// @Param        binderId   path      string  true   "Binder ID"
// @Param        commentId  formData  string  false  "Reader comment the visual belongs to"
// @Param        file       formData  file    true   "Visual bytes"
// @Success      201  {object}  responses.UploadResponse
// @Success      200  {object}  responses.UploadResponse  "Existing visual with the same content"
// @Failure      400  {object}  responses.ErrorResponse
// @Router       /v1/binders/{binderId}/visuals [post]
func (h *VisualHandler) Upload(c *gin.Context) {
	binderID := c.Param("binderId")
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes+multipartOverhead)

	reader, err := c.Request.MultipartReader()
	if err != nil {
		responses.HandleError(c, procerrors.Validation("multipart form with a file part is required").WithCause(err), "invalid upload")
		return
	}

	commentID := c.Query("commentId")
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			responses.HandleError(c, procerrors.Validation("file is required"), "invalid upload")
			return
		}
		if err != nil {
			responses.HandleError(c, procerrors.Validation("malformed multipart body").WithCause(err), "invalid upload")
			return
		}

		switch part.FormName() {
		case "commentId":
			raw, err := io.ReadAll(io.LimitReader(part, 256))
			closeQuietly(part)
			if err != nil {
				responses.HandleError(c, procerrors.Validation("unreadable commentId").WithCause(err), "invalid upload")
				return
			}
			commentID = strings.TrimSpace(string(raw))
		case "file":
			v, existing, err := h.service.Upload(c.Request.Context(), visual.UploadRequest{
				BinderID:  binderID,
				Filename:  part.FileName(),
				CommentID: commentID,
				AccountID: c.GetHeader(accountHeader),
				Body:      part,
			})
			closeQuietly(part)
			if err != nil {
				metrics.RecordUpload(part.Header.Get("Content-Type"), "error", 0)
				responses.HandleError(c, err, "upload failed")
				return
			}
			status := http.StatusCreated
			if existing {
				status = http.StatusOK
			}
			metrics.RecordUpload(v.Mime, "success", formatSize(v, visual.FormatOriginal))
			c.JSON(status, responses.UploadResponse{Visual: v, Existing: existing})
			return
		default:
			closeQuietly(part)
		}
	}
}

// GetVisual godoc
// @Summary      Get a visual
// @Tags         visuals
// @Produce      json
// @Param        binderId  path  string  true  "Binder ID"
// @Param        visualId  path  string  true  "Visual ID"
// @Success      200  {object}  visual.Visual
// @Failure      404  {object}  responses.ErrorResponse
// @Router       /v1/binders/{binderId}/visuals/{visualId} [get]
func (h *VisualHandler) GetVisual(c *gin.Context) {
	id, ok := visualID(c)
	if !ok {
		return
	}
	v, err := h.service.Get(c.Request.Context(), c.Param("binderId"), id)
	if err != nil {
		responses.HandleError(c, err, "failed to load visual")
		return
	}
	c.JSON(http.StatusOK, v)
}

// Delete godoc
// @Summary      Soft-delete a visual
// @Tags         visuals
// @Param        binderId  path  string  true  "Binder ID"
// @Param        visualId  path  string  true  "Visual ID"
// @Success      204
// @Failure      404  {object}  responses.ErrorResponse
// @Router       /v1/binders/{binderId}/visuals/{visualId} [delete]
func (h *VisualHandler) Delete(c *gin.Context) {
	id, ok := visualID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("binderId"), id); err != nil {
		responses.HandleError(c, err, "failed to delete visual")
		return
	}
	c.Status(http.StatusNoContent)
}

// Duplicate godoc
// @Summary      Duplicate a visual into another binder
// @Description  The copy shares the bytes and formats of the canonical original.
// @Tags         visuals
// @Accept       json
// @Produce      json
// @Param        binderId  path  string                     true  "Binder ID"
// @Param        visualId  path  string                     true  "Visual ID"
// @Param        request   body  requests.DuplicateRequest  true  "Target binder"
// @Success      201  {object}  visual.Visual
// @Failure      400  {object}  responses.ErrorResponse
// @Router       /v1/binders/{binderId}/visuals/{visualId}/duplicate [post]
func (h *VisualHandler) Duplicate(c *gin.Context) {
	id, ok := visualID(c)
	if !ok {
		return
	}
	var req requests.DuplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleError(c, procerrors.Validation("targetBinderId is required").WithCause(err), "invalid request")
		return
	}
	dup, err := h.service.Duplicate(c.Request.Context(), c.Param("binderId"), id, req.TargetBinderID)
	if err != nil {
		responses.HandleError(c, err, "failed to duplicate visual")
		return
	}
	c.JSON(http.StatusCreated, dup)
}

// GetFormat godoc
// @Summary      Stream a visual format
// @Description  Streams the bytes of one format from the backend that owns it. Single byte ranges are supported.
// @Tags         visuals
// @Produce      octet-stream
// @Param        binderId    path    string  true   "Binder ID"
// @Param        visualId    path    string  true   "Visual ID"
// @Param        formatType  path    string  true   "Format type, e.g. ORIGINAL or THUMBNAIL"
// @Param        Range       header  string  false  "bytes=start-end"
// @Success      200  "binary data"
// @Success      206  "partial content"
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      416  {object}  responses.ErrorResponse
// @Router       /v1/binders/{binderId}/visuals/{visualId}/formats/{formatType} [get]
func (h *VisualHandler) GetFormat(c *gin.Context) {
	id, ok := visualID(c)
	if !ok {
		return
	}
	formatType, ok := visual.ParseFormatType(c.Param("formatType"))
	if !ok {
		responses.HandleError(c, procerrors.Validation(fmt.Sprintf("unknown format type %q", c.Param("formatType"))), "invalid format")
		return
	}
	rng, err := requests.ParseRange(c.GetHeader("Range"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestedRangeNotSatisfiable, responses.ErrorResponse{Error: err.Error()})
		return
	}

	stream, err := h.service.OpenFormat(c.Request.Context(), c.Param("binderId"), id, formatType, rng)
	if err != nil {
		responses.HandleError(c, err, "failed to open format")
		return
	}
	defer closeQuietly(stream.Body)

	headers := map[string]string{"Accept-Ranges": "bytes"}
	status := http.StatusOK
	if rng != nil {
		if stream.TotalSize > 0 && rng.Start >= stream.TotalSize {
			c.Header("Content-Range", fmt.Sprintf("bytes */%d", stream.TotalSize))
			c.AbortWithStatusJSON(http.StatusRequestedRangeNotSatisfiable, responses.ErrorResponse{Error: requests.ErrUnsatisfiableRange.Error()})
			return
		}
		status = http.StatusPartialContent
		end := rng.Start + stream.ContentLength - 1
		headers["Content-Range"] = fmt.Sprintf("bytes %d-%d/%s", rng.Start, end, totalOrStar(stream.TotalSize))
	}
	contentType := stream.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(status, stream.ContentLength, contentType, stream.Body, headers)
}

func totalOrStar(total int64) string {
	if total <= 0 {
		return "*"
	}
	return strconv.FormatInt(total, 10)
}

func formatSize(v *visual.Visual, formatType visual.FormatType) int64 {
	if f, ok := v.Format(formatType); ok {
		return f.Size
	}
	return 0
}

// visualID parses the visualId path parameter and answers 400 when it is malformed.
func visualID(c *gin.Context) (visual.Identifier, bool) {
	id, err := visual.ParseIdentifier(c.Param("visualId"))
	if err != nil {
		responses.HandleError(c, err, "invalid visual id")
		return visual.Identifier{}, false
	}
	return id, true
}
