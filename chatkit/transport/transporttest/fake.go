// Package transporttest provides in-memory transport fakes for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/credential"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
)

// Factory records every instance it builds, keyed by service name.
type Factory struct {
	mu        sync.Mutex
	instances map[string]*Instance
	// FailOn makes NewInstance fail for this service name.
	FailOn string
}

// NewFactory creates an empty Factory.
func NewFactory() *Factory {
	return &Factory{instances: make(map[string]*Instance)}
}

// NewInstance implements transport.Factory.
func (f *Factory) NewInstance(opts transport.Options) (transport.Instance, error) {
	if opts.ServiceName == f.FailOn {
		return nil, fmt.Errorf("transporttest: refusing to build %s", opts.ServiceName)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := NewInstance(opts)
	f.instances[opts.ServiceName] = inst
	return inst, nil
}

// Instance returns the instance built for service, or nil.
func (f *Factory) Instance(service string) *Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[service]
}

type response struct {
	body []byte
	err  error
}

// Instance is a scriptable transport.Instance.
type Instance struct {
	Options transport.Options

	mu        sync.Mutex
	streams   map[string]*Stream
	openErr   map[string]error
	responses map[string]response
	requests  []transport.Request
	tokens    []credential.Provider
}

// NewInstance creates an Instance directly.
func NewInstance(opts transport.Options) *Instance {
	return &Instance{
		Options:   opts,
		streams:   make(map[string]*Stream),
		openErr:   make(map[string]error),
		responses: make(map[string]response),
	}
}

// ServiceName implements transport.Instance.
func (i *Instance) ServiceName() string {
	return i.Options.ServiceName
}

// FailOpen makes Open(path) return err.
func (i *Instance) FailOpen(path string, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.openErr[path] = err
}

// Open implements transport.Instance.
func (i *Instance) Open(_ context.Context, path string, tokens credential.Provider) (transport.Stream, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tokens = append(i.tokens, tokens)
	if err := i.openErr[path]; err != nil {
		return nil, err
	}
	s := newStream()
	i.streams[path] = s
	return s, nil
}

// Stream returns the stream opened on path, or nil.
func (i *Instance) Stream(path string) *Stream {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.streams[path]
}

// Tokens returns the providers passed to Open, in call order.
func (i *Instance) Tokens() []credential.Provider {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]credential.Provider(nil), i.tokens...)
}

// Respond sets the canned response for requests on path (or URL).
func (i *Instance) Respond(path string, body []byte, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.responses[path] = response{body: body, err: err}
}

// RespondJSON sets a canned JSON response.
func (i *Instance) RespondJSON(path string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	i.Respond(path, body, nil)
}

// Request implements transport.Instance.
func (i *Instance) Request(ctx context.Context, req transport.Request, _ credential.Provider) ([]byte, error) {
	i.mu.Lock()
	i.requests = append(i.requests, req)
	key := req.Path
	if req.URL != "" {
		key = req.URL
	}
	resp, ok := i.responses[key]
	i.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, &transport.StatusError{Status: 404, Body: key}
	}
	return resp.body, resp.err
}

// Requests returns every request received so far.
func (i *Instance) Requests() []transport.Request {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]transport.Request(nil), i.requests...)
}

// RequestCount counts requests on path.
func (i *Instance) RequestCount(path string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, r := range i.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// Stream is a scriptable transport.Stream. Close only marks it closed;
// the delivery channel stays open so tests can push late events.
// Deliveries are handed over one at a time, so once Received catches up
// with Sent after a Sync, the consumer is done with everything before it.
type Stream struct {
	in  chan transport.Delivery
	out chan transport.Delivery

	mu       sync.Mutex
	closed   bool
	ended    bool
	sent     int
	received int
}

func newStream() *Stream {
	s := &Stream{
		in:  make(chan transport.Delivery, 256),
		out: make(chan transport.Delivery),
	}
	go s.relay()
	return s
}

func (s *Stream) relay() {
	for d := range s.in {
		s.out <- d
		s.mu.Lock()
		s.received++
		s.mu.Unlock()
	}
	close(s.out)
}

// Deliveries implements transport.Stream.
func (s *Stream) Deliveries() <-chan transport.Delivery {
	return s.out
}

// Close implements transport.Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Push delivers an event whose data is v encoded as JSON.
func (s *Stream) Push(eventName string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	s.PushRaw(eventName, data)
}

// PushRaw delivers an event with raw data.
func (s *Stream) PushRaw(eventName string, data []byte) {
	s.deliver(transport.Delivery{Event: &domain.ChatEvent{
		EventName: eventName,
		Timestamp: "2024-01-01T00:00:00Z",
		Data:      data,
	}})
}

// Fail delivers a recoverable error.
func (s *Stream) Fail(err error) {
	s.deliver(transport.Delivery{Err: err})
}

// FailFatal delivers a fatal error and ends the stream.
func (s *Stream) FailFatal(err error) {
	s.deliver(transport.Delivery{Err: err, Fatal: true})
	s.End()
}

// Sync delivers an empty Delivery, which carries neither event nor error.
// It is a no-op for a consumer and marks a point to wait on.
func (s *Stream) Sync() {
	s.deliver(transport.Delivery{})
}

// End closes the delivery channel once pending deliveries are handed
// over, as a transport does when it stops.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.in)
	}
}

func (s *Stream) deliver(d transport.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.sent++
	s.in <- d
}

// Sent counts deliveries pushed so far.
func (s *Stream) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Received counts deliveries the consumer has taken.
func (s *Stream) Received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}
