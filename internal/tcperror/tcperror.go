// Package tcperror translates internal failures into the closed wire
// Reason taxonomy carried by an Error frame, so that a session only ever
// has to decide "which of these six things happened" rather than leak
// implementation detail to the client.
package tcperror

import (
	"errors"
	"fmt"

	"github.com/M4urici0GM/tcproxy-sub000/internal/frame"
)

// WireError pairs an internal error with the closed Reason it maps to on
// the wire. Session code should wrap any error it intends to surface to
// the client in a WireError before sending an Error frame.
type WireError struct {
	Reason frame.Reason
	Err    error
}

func (e *WireError) Error() string {
	if e.Err == nil {
		return e.Reason.String()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *WireError) Unwrap() error { return e.Err }

// New wraps err under reason.
func New(reason frame.Reason, err error) *WireError {
	return &WireError{Reason: reason, Err: err}
}

// ReasonOf extracts the wire Reason from err, falling back to
// UnexpectedError for anything that wasn't deliberately classified. Every
// Error frame the server sends should be built from this function so an
// unclassified internal error never leaks more than "unexpected error".
func ReasonOf(err error) frame.Reason {
	var we *WireError
	if errors.As(err, &we) {
		return we.Reason
	}
	return frame.ReasonUnexpectedError
}

// ToFrame builds the Error frame the server sends for err.
func ToFrame(err error) frame.ErrorFrame {
	reason := ReasonOf(err)
	return frame.ErrorFrame{Reason: reason, Data: []byte(reason.String())}
}
