package subscription

import (
	"errors"
	"fmt"
)

var (
	ErrTerminated   = errors.New("subscription: terminated")
	ErrStreamClosed = errors.New("subscription: stream closed by transport")
)

// StreamError reports a failure of one service stream. Fatal is set only
// when the failure terminated the subscription.
type StreamError struct {
	Service string
	Err     error
	Fatal   bool
}

func (e *StreamError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("%s stream failed: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s stream error: %v", e.Service, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// IsFatal reports whether err terminated a subscription.
func IsFatal(err error) bool {
	var se *StreamError
	return errors.As(err, &se) && se.Fatal
}
