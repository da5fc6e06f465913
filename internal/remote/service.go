// ABOUTME: Service is the backend contract the conversation controller depends on
// ABOUTME: Typed errors separate transport failures from server rejections

package remote

import (
	"context"
	"errors"
	"fmt"
)

// Service is the remote conversation backend.
type Service interface {
	ListThreads(ctx context.Context) (*ThreadList, error)
	GetThread(ctx context.Context, threadID string) (*ThreadDetail, error)
	PostMessage(ctx context.Context, req PostMessageRequest) (*PostMessageReply, error)
	MarkPreferredResponse(ctx context.Context, threadID, responseID string) error
}

// NetworkError is returned when a request never produced an HTTP response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is returned for non-2xx replies.
type ServerError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *ServerError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: server returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: server returned status %d: %s", e.Op, e.StatusCode, e.Detail)
}

// StatusCode reports the HTTP status carried by err, or 0 when err is not a
// *ServerError.
func StatusCode(err error) int {
	var se *ServerError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
