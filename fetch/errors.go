package fetch

import (
	"errors"
	"fmt"

	"github.com/globegl/globeview/tile"
)

// Kind classifies a tile fetch failure.
type Kind int

const (
	// KindNotFound means the provider has no such tile (HTTP 404).
	// Permanent, never retried.
	KindNotFound Kind = iota
	// KindTransient covers connection errors, timeouts and 5xx
	// responses. Retried with backoff.
	KindTransient
	// KindDecode means the payload did not decode to a conforming
	// raster.
	KindDecode
	// KindDisk means the disk store failed; treated as a cache miss.
	KindDisk
	// KindInvalidInput means the tile key or zoom is out of range.
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindTransient:
		return "transient"
	case KindDecode:
		return "decode"
	case KindDisk:
		return "disk"
	case KindInvalidInput:
		return "invalid input"
	}
	return "unknown"
}

// Error is a classified tile fetch failure.
type Error struct {
	Kind Kind
	Key  tile.Key
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("tile %v: %s", e.Key, e.Kind)
	}
	return fmt.Sprintf("tile %v: %s: %v", e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent reports whether retrying this request cannot help.
func (e *Error) Permanent() bool {
	return e.Kind == KindNotFound || e.Kind == KindInvalidInput
}

// KindOf extracts the failure kind, defaulting to transient for
// unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}
