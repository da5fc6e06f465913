// ABOUTME: Sentinel errors returned by the conversation manager
// ABOUTME: Wrapped with context via fmt.Errorf and matched with errors.Is

package conversation

import "errors"

var (
	// ErrValidation is returned before any mutation when input is rejected.
	ErrValidation = errors.New("invalid input")

	// ErrBusy is returned when a send is already in flight for the thread.
	ErrBusy = errors.New("a message is already being sent")

	// ErrNotFound is returned when a message or variant does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIndexOutOfRange is returned when a variant index is invalid.
	ErrIndexOutOfRange = errors.New("variant index out of range")

	// ErrMalformedReply is returned when a chat reply matches no known shape.
	ErrMalformedReply = errors.New("malformed reply")
)
