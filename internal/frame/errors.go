package frame

import (
	"errors"
	"fmt"
)

// ErrIncomplete signals that the cursor's buffer does not yet contain a
// full frame; the caller must read more bytes and retry without discarding
// what it already has.
var ErrIncomplete = errors.New("frame: incomplete")

// MalformedError signals a buffer that can never become valid: an unknown
// discriminator or an impossible length. The connection must be closed.
type MalformedError struct {
	Kind string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("frame: malformed (%s)", e.Kind)
}

func malformed(kind string) error {
	return &MalformedError{Kind: kind}
}

// IsMalformed reports whether err is a MalformedError.
func IsMalformed(err error) bool {
	var m *MalformedError
	return errors.As(err, &m)
}
