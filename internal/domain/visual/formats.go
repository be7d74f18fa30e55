package visual

import (
	"math"
	"strings"
)

// FormatType enumerates the renditions a visual can have.
type FormatType string

const (
	FormatOriginal FormatType = "ORIGINAL"

	FormatThumbnail FormatType = "THUMBNAIL"
	FormatMedium    FormatType = "MEDIUM"
	FormatBig       FormatType = "BIG"
	FormatHuge      FormatType = "HUGE"

	FormatVideoSD         FormatType = "VIDEO_DEFAULT_SD"
	FormatVideoHD         FormatType = "VIDEO_DEFAULT_HD"
	FormatVideoIPhoneHD   FormatType = "VIDEO_IPHONE_HD"
	FormatVideoWebDefault FormatType = "VIDEO_WEB_DEFAULT"

	FormatVideoScreenshot          FormatType = "VIDEO_SCREENSHOT"
	FormatVideoScreenshotBig       FormatType = "VIDEO_SCREENSHOT_BIG"
	FormatVideoScreenshotHuge      FormatType = "VIDEO_SCREENSHOT_HUGE"
	FormatVideoScreenshotThumbnail FormatType = "VIDEO_SCREENSHOT_THUMBNAIL"
)

// KeyFramePositionTolerance is the window, in seconds, inside which two screenshots of the
// same type are considered the same rendition.
const KeyFramePositionTolerance = 0.5

// ImageSize is the bounding box of a sized image rendition.
type ImageSize struct {
	FormatType FormatType
	MaxWidth   int
	MaxHeight  int
}

// ImageSizes lists the sized renditions derived from every raster image, smallest first.
var ImageSizes = []ImageSize{
	{FormatType: FormatThumbnail, MaxWidth: 300, MaxHeight: 300},
	{FormatType: FormatMedium, MaxWidth: 800, MaxHeight: 800},
	{FormatType: FormatBig, MaxWidth: 1200, MaxHeight: 1200},
	{FormatType: FormatHuge, MaxWidth: 1920, MaxHeight: 1920},
}

// SizeFor returns the bounding box of a sized image format.
func SizeFor(formatType FormatType) (ImageSize, bool) {
	for _, size := range ImageSizes {
		if size.FormatType == formatType {
			return size, true
		}
	}
	return ImageSize{}, false
}

func (f FormatType) IsScreenshot() bool {
	return strings.HasPrefix(string(f), "VIDEO_SCREENSHOT")
}

func (f FormatType) IsVideoRendition() bool {
	return strings.HasPrefix(string(f), "VIDEO_") && !f.IsScreenshot()
}

// ParseFormatType validates a format name coming from a request.
func ParseFormatType(raw string) (FormatType, bool) {
	ft := FormatType(strings.ToUpper(strings.TrimSpace(raw)))
	switch ft {
	case FormatOriginal, FormatThumbnail, FormatMedium, FormatBig, FormatHuge,
		FormatVideoSD, FormatVideoHD, FormatVideoIPhoneHD, FormatVideoWebDefault,
		FormatVideoScreenshot, FormatVideoScreenshotBig, FormatVideoScreenshotHuge, FormatVideoScreenshotThumbnail:
		return ft, true
	}
	return "", false
}

func keyFrame(f VisualFormat) float64 {
	if f.KeyFramePosition == nil {
		return 0
	}
	return *f.KeyFramePosition
}

// SameRendition reports whether two formats occupy the same slot: same type and key frames
// no further apart than KeyFramePositionTolerance. Missing key frames count as 0.
func SameRendition(a, b VisualFormat) bool {
	if a.FormatType != b.FormatType {
		return false
	}
	return math.Abs(keyFrame(a)-keyFrame(b)) <= KeyFramePositionTolerance
}

// ReconcileFormats keeps every existing format not matched by an incoming one and appends the
// incoming formats, deduplicated among themselves (a later incoming format wins).
func ReconcileFormats(existing, incoming []VisualFormat) []VisualFormat {
	deduped := make([]VisualFormat, 0, len(incoming))
	for _, candidate := range incoming {
		kept := deduped[:0]
		for _, f := range deduped {
			if !SameRendition(f, candidate) {
				kept = append(kept, f)
			}
		}
		deduped = append(kept, candidate)
	}

	result := make([]VisualFormat, 0, len(existing)+len(deduped))
	for _, f := range existing {
		replaced := false
		for _, n := range deduped {
			if SameRendition(f, n) {
				replaced = true
				break
			}
		}
		if !replaced {
			result = append(result, f)
		}
	}
	return append(result, deduped...)
}
