package nbs

import (
	"errors"
	"fmt"

	"github.com/zeebo/errs/v2"
)

// Sentinel errors for conditions that carry no useful payload beyond their
// kind. Callers should compare against these with errors.Is.
var (
	// ErrMissingPathsArg is returned when Open is called with a nil paths slice.
	ErrMissingPathsArg = errors.New("nbs: paths argument is required")

	// ErrEmptyPaths is returned when Open is called with zero paths.
	ErrEmptyPaths = errors.New("nbs: paths must contain at least one entry")

	// ErrInvalidPathItem is returned when an entry in paths is empty.
	ErrInvalidPathItem = errors.New("nbs: path entries must be non-empty")

	// ErrInvalidHashBytes is returned by HashFromRaw when given the wrong
	// number of bytes.
	ErrInvalidHashBytes = errors.New("nbs: hash bytes must be exactly 8 bytes")

	// ErrInvalidTimestamp is returned when a timestamp value is not one of
	// the supported external shapes.
	ErrInvalidTimestamp = errors.New("nbs: value is not a recognized timestamp shape")

	// ErrInvalidTypeSubtype is returned when a (type, subtype) key cannot be
	// constructed from its inputs.
	ErrInvalidTypeSubtype = errors.New("nbs: invalid type/subtype")

	// ErrInvalidPacket is returned when a packet fails validation on write.
	ErrInvalidPacket = errors.New("nbs: invalid packet")

	// ErrNoMatchingTypes is returned by NextTimestamp when none of the
	// requested keys exist in the index.
	ErrNoMatchingTypes = errors.New("nbs: no matching types for query")

	// ErrEmptyStreams is returned by NextTimestamp when called with zero keys.
	ErrEmptyStreams = errors.New("nbs: no keys given for traversal")

	// ErrNotFound is returned by GetPacketByIndex when the requested index
	// is out of range for the key's stream.
	ErrNotFound = errors.New("nbs: index out of range for key")

	// ErrClosed is returned by Writer.Write when called after Close. Facade
	// methods do not check whether the Facade has been closed.
	ErrClosed = errors.New("nbs: use of closed engine")
)

// MissingSidecarError reports that a path's required <path>.idx sidecar does
// not exist.
type MissingSidecarError struct {
	Path string
}

func (e *MissingSidecarError) Error() string {
	return fmt.Sprintf("nbs: missing sidecar index for %q", e.Path)
}

// CorruptSidecarError reports that a sidecar's gzip framing or record
// stream failed to decode. The index loader does not return it: a short
// final record or a failed read ends that sidecar's stream, keeping the
// records read before it.
type CorruptSidecarError struct {
	Path string
	Err  error
}

func (e *CorruptSidecarError) Error() string {
	return fmt.Sprintf("nbs: corrupt sidecar %q: %v", e.Path, e.Err)
}

func (e *CorruptSidecarError) Unwrap() error { return e.Err }

// IOError wraps an I/O failure with the operation and path that caused it.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("nbs: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// wrapIO annotates a raw I/O error with the operation and path, using errs.Wrap
// internally for the stack-trace-annotated cause the way histdb's filesystem
// package wraps every os call before it crosses a package boundary.
func wrapIO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: errs.Wrap(err)}
}
