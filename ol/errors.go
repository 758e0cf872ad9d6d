package ol

import "errors"

var (
	ErrNotFound      = errors.New("ol: unknown element")
	ErrInvalidAnchor = errors.New("ol: anchor is not present")
	ErrDuplicateID   = errors.New("ol: id reused with different content")
	ErrMalformed     = errors.New("ol: malformed element")
	ErrOutOfRange    = errors.New("ol: position out of range")
)
