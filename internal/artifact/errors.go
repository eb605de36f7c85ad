package artifact

import "errors"

// ErrNotFound is returned when an artifact id has no stored blob.
var ErrNotFound = errors.New("artifact not found")

// ErrUnknownContentType is returned for content types outside the known set.
var ErrUnknownContentType = errors.New("unknown artifact content type")
