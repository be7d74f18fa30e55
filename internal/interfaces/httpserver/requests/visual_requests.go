package requests

import (
	"errors"
	"strconv"
	"strings"

	"jan-server/services/visual-api/internal/domain/visual"
)

// ErrUnsatisfiableRange is returned for Range headers that cannot be served.
var ErrUnsatisfiableRange = errors.New("unsatisfiable range")

// DuplicateRequest copies a visual into another binder
type DuplicateRequest struct {
	TargetBinderID string `json:"targetBinderId" binding:"required"`
}

// ParseRange reads a single "bytes=start-end" range. An empty header yields nil. Suffix ranges
// ("bytes=-500") and multi-range requests are not supported.
func ParseRange(header string) (*visual.ByteRange, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, ErrUnsatisfiableRange
	}
	rawStart, rawEnd, ok := strings.Cut(spec, "-")
	if !ok || rawStart == "" {
		return nil, ErrUnsatisfiableRange
	}
	start, err := strconv.ParseInt(strings.TrimSpace(rawStart), 10, 64)
	if err != nil || start < 0 {
		return nil, ErrUnsatisfiableRange
	}
	rng := &visual.ByteRange{Start: start}
	if rawEnd = strings.TrimSpace(rawEnd); rawEnd != "" {
		end, err := strconv.ParseInt(rawEnd, 10, 64)
		if err != nil || end < start {
			return nil, ErrUnsatisfiableRange
		}
		rng.End = &end
	}
	return rng, nil
}
