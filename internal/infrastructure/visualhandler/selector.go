// Package visualhandler holds the per-MIME handlers that read visuals and derive their formats.
package visualhandler

import (
	"context"
	"strings"

	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/domain/visual"
)

// GIFHandler reads GIF metadata and keeps only the ORIGINAL, so animations are never flattened.
type GIFHandler struct {
	*ImageHandler
}

func (h GIFHandler) Resize(context.Context, string, *visual.Metadata, visual.FormatType) (string, bool, error) {
	return "", false, nil
}

// Selector picks a handler from the MIME type alone.
type Selector struct {
	image *ImageHandler
	gif   GIFHandler
	svg   *SVGHandler
	video *VideoHandler
}

func NewSelector(image *ImageHandler, svg *SVGHandler, video *VideoHandler) *Selector {
	return &Selector{image: image, gif: GIFHandler{ImageHandler: image}, svg: svg, video: video}
}

func (s *Selector) ForMime(mime string) (visual.Handler, error) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch {
	case mime == "image/gif":
		return s.gif, nil
	case mime == "image/svg+xml":
		return s.svg, nil
	case strings.HasPrefix(mime, "image/"):
		return s.image, nil
	case strings.HasPrefix(mime, "video/"):
		return s.video, nil
	}
	return nil, procerrors.Validation("unsupported mime type " + mime)
}
