package visualhandler

import (
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"jan-server/services/visual-api/internal/domain/visual"
)

const jpegQuality = 85

// ImageHandler reads and resizes raster images.
type ImageHandler struct {
	log zerolog.Logger
}

func NewImageHandler(log zerolog.Logger) *ImageHandler {
	return &ImageHandler{log: log.With().Str("component", "image-handler").Logger()}
}

func (h *ImageHandler) GetMetadata(_ context.Context, path string) (*visual.Metadata, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect mime: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	metadata := &visual.Metadata{Mime: mt.String(), Size: info.Size()}
	if mt.Is("image/gif") {
		all, err := gif.DecodeAll(f)
		if err != nil {
			return nil, fmt.Errorf("decode gif: %w", err)
		}
		metadata.Width, metadata.Height = all.Config.Width, all.Config.Height
		metadata.Animated = len(all.Image) > 1
		return metadata, nil
	}

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}
	metadata.Width, metadata.Height = cfg.Width, cfg.Height
	return metadata, nil
}

// Resize scales the image into the bounding box of formatType. Images already inside the box and
// animated GIFs get no rendition.
func (h *ImageHandler) Resize(ctx context.Context, path string, metadata *visual.Metadata, formatType visual.FormatType) (string, bool, error) {
	size, ok := visual.SizeFor(formatType)
	if !ok {
		return "", false, fmt.Errorf("%s is not a sized image format", formatType)
	}
	if metadata.Animated {
		return "", false, nil
	}
	width, height, ok := fitInto(metadata.Width, metadata.Height, size.MaxWidth, size.MaxHeight)
	if !ok {
		return "", false, nil
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	src, err := decodeFile(path)
	if err != nil {
		return "", false, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	out, err := os.CreateTemp("", "rendition-*")
	if err != nil {
		return "", false, err
	}
	if err := encode(out, dst, metadata.Mime); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", false, fmt.Errorf("encode %s: %w", formatType, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", false, err
	}

	h.log.Debug().
		Str("format", string(formatType)).
		Int("width", width).
		Int("height", height).
		Msg("image resized")
	return out.Name(), true, nil
}

// fitInto scales (w, h) down to fit (maxW, maxH) keeping the aspect ratio. ok is false when the
// source already fits.
func fitInto(w, h, maxW, maxH int) (int, int, bool) {
	if w <= 0 || h <= 0 || (w <= maxW && h <= maxH) {
		return w, h, false
	}
	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))
	return nw, nh, true
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// encode writes the rendition in the source encoding. WebP has no encoder here and is written as PNG.
func encode(f *os.File, img image.Image, mime string) error {
	switch mime {
	case "image/jpeg":
		return jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality})
	case "image/gif":
		return gif.Encode(f, img, nil)
	case "image/bmp":
		return bmp.Encode(f, img)
	case "image/tiff":
		return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return png.Encode(f, img)
	}
}
