package storage

import (
	"context"
	"strings"

	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/domain/visual"
)

// Backends lists the storage systems known to the router. ImageDefault, VideoDefault and
// LegacyVideo are required. Extra holds read-only backends such as legacy image containers.
type Backends struct {
	ImageDefault visual.Storage
	VideoDefault visual.Storage
	LegacyVideo  visual.Storage
	Extra        []visual.Storage
}

// Router maps stored format URLs to the backend owning them.
type Router struct {
	visuals      visual.Repository
	imageDefault visual.Storage
	videoDefault visual.Storage
	legacyVideo  visual.Storage
	all          []visual.Storage
}

func NewRouter(visuals visual.Repository, b Backends) *Router {
	all := []visual.Storage{b.ImageDefault, b.VideoDefault, b.LegacyVideo}
	for _, s := range b.Extra {
		if s != nil {
			all = append(all, s)
		}
	}
	return &Router{
		visuals:      visuals,
		imageDefault: b.ImageDefault,
		videoDefault: b.VideoDefault,
		legacyVideo:  b.LegacyVideo,
		all:          all,
	}
}

// SelectBackend loads the visual and returns the backend owning the requested format.
func (r *Router) SelectBackend(ctx context.Context, binderID string, id visual.Identifier, formatType visual.FormatType) (visual.Storage, error) {
	v, err := r.visuals.Get(ctx, binderID, id)
	if err != nil {
		return nil, err
	}
	return r.BackendFor(v, formatType)
}

// BackendFor routes a format of an already loaded visual. A format the visual does not have yet
// goes to the backend it would be written to: the image default, or for videos the backend
// family of the ORIGINAL.
func (r *Router) BackendFor(v *visual.Visual, formatType visual.FormatType) (visual.Storage, error) {
	format, ok := v.Format(formatType)
	if !ok {
		if !v.IsVideo() {
			return r.imageDefault, nil
		}
		if original, ok := v.Format(visual.FormatOriginal); ok && strings.HasPrefix(original.StorageLocation, r.legacyVideo.Scheme()) {
			return r.legacyVideo, nil
		}
		return r.videoDefault, nil
	}
	return r.ByURL(format.StorageLocation)
}

// ByURL returns the first backend whose scheme prefixes the URL. Backends sharing a scheme must
// also accept the URL through MatchesURL.
func (r *Router) ByURL(storageLocation string) (visual.Storage, error) {
	for _, backend := range r.all {
		if !strings.HasPrefix(storageLocation, backend.Scheme()) {
			continue
		}
		if matcher, ok := backend.(visual.URLMatcher); ok && !matcher.MatchesURL(storageLocation) {
			continue
		}
		return backend, nil
	}
	return nil, procerrors.NoMatchingBackend(storageLocation)
}

// ForWrite returns the backend new bytes of the given kind are written to.
func (r *Router) ForWrite(kind visual.Kind) visual.Storage {
	if kind == visual.KindVideo {
		return r.videoDefault
	}
	return r.imageDefault
}

func (r *Router) Backends() []visual.Storage {
	return r.all
}
