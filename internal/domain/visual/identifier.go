package visual

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	procerrors "jan-server/services/visual-api/internal/domain/errors"
)

// Kind discriminates images from videos. It is derived purely from the identifier prefix.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

const (
	imagePrefix = "img-"
	videoPrefix = "vid-"
)

func (k Kind) prefix() string {
	if k == KindVideo {
		return videoPrefix
	}
	return imagePrefix
}

var (
	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
)

func nextULID(now time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	if entropy == nil {
		entropy = ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0)
	}
	return ulid.MustNew(ulid.Timestamp(now), entropy)
}

// Identifier is an immutable visual id: a validated string tagged with its kind.
type Identifier struct {
	value string
	kind  Kind
}

// GenerateIdentifier creates a new identifier whose prefix follows the MIME type.
func GenerateIdentifier(mime string) Identifier {
	kind := KindForMime(mime)
	return Identifier{
		value: kind.prefix() + strings.ToLower(nextULID(time.Now()).String()),
		kind:  kind,
	}
}

// KindForMime maps video/* to videos and everything else to images.
func KindForMime(mime string) Kind {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mime)), "video/") {
		return KindVideo
	}
	return KindImage
}

// ParseIdentifier validates a raw id and derives its kind from the prefix.
func ParseIdentifier(raw string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	var kind Kind
	switch {
	case strings.HasPrefix(raw, imagePrefix):
		kind = KindImage
	case strings.HasPrefix(raw, videoPrefix):
		kind = KindVideo
	default:
		return Identifier{}, procerrors.Validation(fmt.Sprintf("invalid visual identifier %q", raw))
	}
	if len(raw) == len(kind.prefix()) {
		return Identifier{}, procerrors.Validation(fmt.Sprintf("invalid visual identifier %q", raw))
	}
	return Identifier{value: raw, kind: kind}, nil
}

// ParseIdentifierOfKind fails when raw does not carry the prefix of the expected kind.
func ParseIdentifierOfKind(raw string, kind Kind) (Identifier, error) {
	id, err := ParseIdentifier(raw)
	if err != nil {
		return Identifier{}, err
	}
	if id.kind != kind {
		return Identifier{}, procerrors.Validation(fmt.Sprintf("identifier %q is not a %s identifier", raw, kind))
	}
	return id, nil
}

// MustParseIdentifier is ParseIdentifier for ids known to be valid, e.g. read back from storage.
func MustParseIdentifier(raw string) Identifier {
	id, err := ParseIdentifier(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func (id Identifier) String() string { return id.value }
func (id Identifier) Kind() Kind     { return id.kind }
func (id Identifier) IsVideo() bool  { return id.kind == KindVideo }
func (id Identifier) IsZero() bool   { return id.value == "" }

func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

func (id *Identifier) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = Identifier{}
		return nil
	}
	parsed, err := ParseIdentifier(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
