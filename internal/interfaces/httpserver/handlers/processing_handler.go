package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/visual-api/internal/domain/processing"
	"jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/interfaces/httpserver/responses"
)

// ProcessingHandler exposes the processing job of a visual to operators.
type ProcessingHandler struct {
	service ProcessingService
	log     zerolog.Logger
}

func NewProcessingHandler(service ProcessingService, log zerolog.Logger) *ProcessingHandler {
	return &ProcessingHandler{
		service: service,
		log:     log.With().Str("component", "processing-handler").Logger(),
	}
}

// GetJob godoc
// @Summary      Get the processing job of a visual
// @Tags         processing
// @Produce      json
// @Param        visualId  path  string  true  "Visual ID"
// @Success      200  {object}  job.Job
// @Failure      404  {object}  responses.ErrorResponse
// @Router       /v1/visuals/{visualId}/job [get]
func (h *ProcessingHandler) GetJob(c *gin.Context) {
	id, ok := visualID(c)
	if !ok {
		return
	}
	j, err := h.service.Job(c.Request.Context(), id)
	if err != nil {
		responses.HandleError(c, err, "failed to load processing job")
		return
	}
	c.JSON(http.StatusOK, j)
}

// Restart godoc
// @Summary      Restart stale video processing
// @Description  Re-acquires the stale job now and resumes the work in the background.
// @Tags         processing
// @Param        visualId  path  string  true  "Visual ID"
// @Success      202
// @Failure      400  {object}  responses.ErrorResponse
// @Failure      409  {object}  responses.ErrorResponse
// @Router       /v1/visuals/{visualId}/restart [post]
func (h *ProcessingHandler) Restart(c *gin.Context) {
	id, ok := parseVideoID(c)
	if !ok {
		return
	}
	if err := h.service.RestartVideoProcessing(c.Request.Context(), id, processing.Background); err != nil {
		responses.HandleError(c, err, "failed to restart processing")
		return
	}
	c.Status(http.StatusAccepted)
}

// Reprocess godoc
// @Summary      Flag a visual for reprocessing
// @Description  The stale job sweep restarts flagged jobs.
// @Tags         processing
// @Produce      json
// @Param        binderId  path  string  true  "Binder ID"
// @Param        visualId  path  string  true  "Visual ID"
// @Success      202  {object}  job.Job
// @Failure      404  {object}  responses.ErrorResponse
// @Router       /v1/binders/{binderId}/visuals/{visualId}/reprocess [post]
func (h *ProcessingHandler) Reprocess(c *gin.Context) {
	id, ok := visualID(c)
	if !ok {
		return
	}
	j, err := h.service.FlagForReprocessing(c.Request.Context(), c.Param("binderId"), id, c.GetHeader(accountHeader))
	if err != nil {
		responses.HandleError(c, err, "failed to flag visual for reprocessing")
		return
	}
	c.JSON(http.StatusAccepted, j)
}

// Process godoc
// @Summary      Run processing of an existing visual
// @Description  Runs inline and reports the outcome unless background=true.
// @Tags         processing
// @Param        binderId    path   string  true   "Binder ID"
// @Param        visualId    path   string  true   "Visual ID"
// @Param        background  query  bool    false  "Queue the run instead of waiting for it"
// @Success      202
// @Success      204
// @Failure      409  {object}  responses.ErrorResponse
// @Router       /v1/binders/{binderId}/visuals/{visualId}/process [post]
func (h *ProcessingHandler) Process(c *gin.Context) {
	id, ok := visualID(c)
	if !ok {
		return
	}
	opts, status := processing.Foreground, http.StatusNoContent
	if c.Query("background") == "true" {
		opts, status = processing.Background, http.StatusAccepted
	}
	if err := h.service.Process(c.Request.Context(), c.Param("binderId"), id, c.GetHeader(accountHeader), opts); err != nil {
		responses.HandleError(c, err, "processing failed")
		return
	}
	c.Status(status)
}

func parseVideoID(c *gin.Context) (visual.Identifier, bool) {
	id, err := visual.ParseIdentifierOfKind(c.Param("visualId"), visual.KindVideo)
	if err != nil {
		responses.HandleError(c, err, "invalid video id")
		return visual.Identifier{}, false
	}
	return id, true
}
