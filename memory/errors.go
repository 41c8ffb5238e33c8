package memory

import (
	"errors"

	"github.com/tailored-agentic-units/sharedmem/codec"
)

// Sentinel errors for attribute and proxy operations.
var (
	ErrAttributeNotFound = errors.New("attribute not found")
	ErrInvalidName       = errors.New("invalid attribute name")
	ErrClosed            = errors.New("memory closed")

	ErrPathConflict    = errors.New("path no longer resolves")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrMissingKey      = errors.New("missing key")
	ErrValueNotFound   = errors.New("value not found")
	ErrEmpty           = errors.New("container is empty")
	ErrUnsortable      = errors.New("elements are not mutually ordered")
)

// ErrUnsupportedValue is returned by Write and proxy mutators for values
// outside the JSON domain.
var ErrUnsupportedValue = codec.ErrUnsupportedValue
