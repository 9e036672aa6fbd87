package session

import (
	"errors"
	"fmt"
)

var (
	ErrClosed           = errors.New("session closed")
	ErrNoTracks         = errors.New("no local tracks")
	ErrNoMediaSource    = errors.New("no media source")
	ErrCaptureFailed    = errors.New("capture failed")
	ErrConnectionFailed = errors.New("connection failed")
	ErrInvalidFacing    = errors.New("invalid camera facing")
)

// Error describes a failed session operation.
type Error struct {
	Op      string
	Room    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Room != "" && e.Details != "" {
		return fmt.Sprintf("%s %s: %v (%s)", e.Op, e.Room, e.Err, e.Details)
	}
	if e.Room != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Room, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewRoomError(op, room string, err error) *Error {
	return &Error{Op: op, Room: room, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
