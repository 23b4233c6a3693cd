// Package transport defines the connection collaborator the subscription
// core talks to: one Instance per backend service, able to open event
// streams and issue request/response calls.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/codec"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/credential"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
)

// Service names on the platform.
const (
	ServiceCore     = "chatkit"
	ServiceCursors  = "chatkit_cursors"
	ServiceFiles    = "chatkit_files"
	ServicePresence = "chatkit_presence"
)

// DefaultVersion is the protocol version tag shared by every endpoint.
const DefaultVersion = "v1"

var ErrUnsupported = errors.New("transport: operation not supported")

// Delivery is one item read off a stream: either an event or an error.
// A Fatal error is the last delivery before the channel closes. A
// delivery with neither is ignored by consumers.
type Delivery struct {
	Event *domain.ChatEvent
	Err   error
	Fatal bool
}

// Stream is a long-lived server-to-client event channel. Deliveries is
// closed once the stream has stopped for good.
type Stream interface {
	Deliveries() <-chan Delivery
	Close() error
}

// Request describes a request/response call. Path is relative to the
// service root; URL, when set, is used verbatim instead.
type Request struct {
	Method string
	Path   string
	URL    string
	Query  url.Values
	Body   []byte
}

// Instance is a handle on one service of one platform instance.
type Instance interface {
	ServiceName() string
	Open(ctx context.Context, path string, tokens credential.Provider) (Stream, error)
	Request(ctx context.Context, req Request, tokens credential.Provider) ([]byte, error)
}

// Base is low-level connection state shared by every endpoint built from
// the same Options.
type Base struct {
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	// Host overrides the host derived from the locator.
	Host   string
	Logger zerolog.Logger
	Codec  *codec.Codec
}

// Options identify the service an Instance talks to.
type Options struct {
	// Locator is passed through unvalidated; implementations report a
	// malformed locator when they first need it.
	Locator        string
	ServiceName    string
	ServiceVersion string
	// Host is the default host derived from a well-formed locator, or
	// empty.
	Host string
	Base *Base
}

// Factory builds instances.
type Factory interface {
	NewInstance(opts Options) (Instance, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(opts Options) (Instance, error)

func (f FactoryFunc) NewInstance(opts Options) (Instance, error) {
	return f(opts)
}

// StatusError is returned by Request for a non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: unexpected status %d: %s", e.Status, e.Body)
}

// RetryPolicy controls stream reconnection.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Delay returns the wait before reconnect attempt n (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * p.Backoff
}
