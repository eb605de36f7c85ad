package event

import "errors"

// ErrUnknownKind is returned when parsing a string that is not part of the
// closed kind enumeration.
var ErrUnknownKind = errors.New("unknown event kind")
