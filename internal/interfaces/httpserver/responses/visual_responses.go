package responses

import "jan-server/services/visual-api/internal/domain/visual"

// UploadResponse represents an accepted upload
type UploadResponse struct {
	Visual *visual.Visual `json:"visual"`
	// Existing is true when a visual with the same content was returned instead of a new one.
	Existing bool `json:"existing"`
}
