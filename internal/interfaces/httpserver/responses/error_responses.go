package responses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/utils/platformerrors"
)

// ErrorResponse represents an error response with platform error details
type ErrorResponse struct {
	Code          string         `json:"code,omitempty"` // UUID from PlatformError or the processing error kind
	Error         string         `json:"error"`
	Message       string         `json:"message,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
	ErrorInstance error          `json:"-"`
	RequestID     string         `json:"request_id,omitempty"`
}

// processingStatus maps processing error kinds to HTTP status codes
var processingStatus = map[procerrors.Kind]int{
	procerrors.KindValidation:         http.StatusBadRequest,
	procerrors.KindNotFound:           http.StatusNotFound,
	procerrors.KindJobInProgress:      http.StatusConflict,
	procerrors.KindMaxRetries:         http.StatusConflict,
	procerrors.KindRestartNotPossible: http.StatusConflict,
	procerrors.KindNotAVideo:          http.StatusUnprocessableEntity,
	procerrors.KindTranscodeFailed:    http.StatusUnprocessableEntity,
	procerrors.KindTranscodeTimeout:   http.StatusGatewayTimeout,
	procerrors.KindNoMatchingBackend:  http.StatusInternalServerError,
}

// StatusFor returns the HTTP status code an error is answered with.
func StatusFor(err error) int {
	var procErr *procerrors.ProcessingError
	if errors.As(err, &procErr) {
		if status, ok := processingStatus[procErr.Kind]; ok {
			return status
		}
	}
	var domainErr *platformerrors.PlatformError
	if errors.As(err, &domainErr) {
		return platformerrors.ErrorTypeToHTTPStatus(domainErr.Type)
	}
	return http.StatusInternalServerError
}

// HandleError handles domain errors and returns appropriate HTTP responses
func HandleError(reqCtx *gin.Context, err error, message string) {
	_ = reqCtx.Error(err)
	status := StatusFor(err)

	var procErr *procerrors.ProcessingError
	if errors.As(err, &procErr) {
		reqCtx.AbortWithStatusJSON(status, ErrorResponse{
			Code:          string(procErr.Kind),
			Error:         procErr.Message,
			Message:       message,
			Fields:        procErr.Fields,
			ErrorInstance: procErr,
			RequestID:     requestID(reqCtx),
		})
		return
	}

	var domainErr *platformerrors.PlatformError
	if errors.As(err, &domainErr) {
		errorMessage := domainErr.Message
		if errorMessage == "" {
			errorMessage = message
		}
		reqCtx.AbortWithStatusJSON(status, ErrorResponse{
			Code:          domainErr.Code,
			Error:         errorMessage,
			Message:       errorMessage,
			ErrorInstance: domainErr,
			RequestID:     domainErr.RequestID,
		})
		return
	}

	// Non-platform errors
	reqCtx.AbortWithStatusJSON(status, ErrorResponse{
		Error:         message,
		Message:       message,
		ErrorInstance: err,
		RequestID:     requestID(reqCtx),
	})
}

// HandleNewError creates a new typed error at the handler layer and handles it
func HandleNewError(reqCtx *gin.Context, errorType platformerrors.ErrorType, message string, uuid string) {
	err := platformerrors.NewError(reqCtx.Request.Context(), platformerrors.LayerHandler, errorType, message, nil, uuid)
	HandleError(reqCtx, err, message)
}

func requestID(c *gin.Context) string {
	return c.Writer.Header().Get("X-Request-Id")
}
