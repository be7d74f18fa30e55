package visualhandler

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"

	"jan-server/services/visual-api/internal/domain/visual"
)

// SVGHandler reports the intrinsic size of vector images. Vectors scale on the client, so no
// sized renditions are produced.
type SVGHandler struct{}

func NewSVGHandler() *SVGHandler { return &SVGHandler{} }

type svgRoot struct {
	Width   string `xml:"width,attr"`
	Height  string `xml:"height,attr"`
	ViewBox string `xml:"viewBox,attr"`
}

func (h *SVGHandler) GetMetadata(_ context.Context, path string) (*visual.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var root svgRoot
	if err := xml.NewDecoder(f).Decode(&root); err != nil {
		return nil, fmt.Errorf("decode svg: %w", err)
	}
	width, height := svgLength(root.Width), svgLength(root.Height)
	if width == 0 || height == 0 {
		width, height = viewBoxSize(root.ViewBox)
	}
	return &visual.Metadata{Mime: "image/svg+xml", Width: width, Height: height, Size: info.Size()}, nil
}

func (h *SVGHandler) Resize(context.Context, string, *visual.Metadata, visual.FormatType) (string, bool, error) {
	return "", false, nil
}

// svgLength parses "120", "120px" or "120.5". Relative units yield 0.
func svgLength(raw string) int {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "px")
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || n < 0 {
		return 0
	}
	return int(n + 0.5)
}

func viewBoxSize(raw string) (int, int) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) != 4 {
		return 0, 0
	}
	return svgLength(fields[2]), svgLength(fields[3])
}
