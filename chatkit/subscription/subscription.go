// Package subscription keeps one user's view of the chat platform
// current. It opens a stream per service, applies their events to a
// single room/user/cursor state and reports every change through the
// dispatcher.
package subscription

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/codec"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/credential"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/dispatcher"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/userstore"
	"github.com/weiawesome/wes-io-live-chatkit/pkg/log"
)

// Config holds the collaborators of a Subscription.
type Config struct {
	UserID    string
	Endpoints *transport.Endpoints
	Tokens    credential.Provider
	Listeners *dispatcher.Listeners
	// Users defaults to a store fetching from the core endpoint.
	Users  *userstore.Store
	Codec  *codec.Codec
	Logger zerolog.Logger
}

type cursorKey struct {
	roomID int
	userID string
}

type eventHandler func(evt *domain.ChatEvent)

type streamSpec struct {
	inst  transport.Instance
	path  string
	core  bool
	apply eventHandler
}

// Subscription is the per-user subscription state machine.
type Subscription struct {
	id        string
	userID    string
	endpoints *transport.Endpoints
	tokens    credential.Provider
	listeners *dispatcher.Listeners
	users     *userstore.Store
	codec     *codec.Codec
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active chan struct{}
	done   chan struct{}

	// mu serialises every state change. Dispatcher calls are made while
	// it is held so callbacks are scheduled in application order.
	mu          sync.Mutex
	state       State
	started     bool
	degraded    map[string]error
	currentUser *domain.User
	rooms       map[int]*domain.Room
	gone        map[int]struct{} // removed or deleted since the last initial state
	cursors     map[cursorKey]*domain.Cursor
	streams     []transport.Stream
	err         error
}

// New creates a Subscription in the Connecting state. Nothing is opened
// until Start.
func New(cfg Config) (*Subscription, error) {
	if cfg.UserID == "" {
		return nil, errors.New("subscription: user id is required")
	}
	if cfg.Endpoints == nil || cfg.Endpoints.Core == nil {
		return nil, errors.New("subscription: endpoints are required")
	}
	if cfg.Listeners == nil {
		return nil, errors.New("subscription: listeners are required")
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.Default()
	}

	id := uuid.New().String()
	logger := cfg.Logger.With().
		Str(log.FieldSubscriptionID, id).
		Str(log.FieldUserID, cfg.UserID).
		Logger()

	users := cfg.Users
	if users == nil {
		users = userstore.New(userstore.NewInstanceFetcher(cfg.Endpoints.Core, cfg.Tokens, cfg.Codec), logger)
	}

	return &Subscription{
		id:        id,
		userID:    cfg.UserID,
		endpoints: cfg.Endpoints,
		tokens:    cfg.Tokens,
		listeners: cfg.Listeners,
		users:     users,
		codec:     cfg.Codec,
		logger:    logger,
		active:    make(chan struct{}),
		done:      make(chan struct{}),
		state:     StateConnecting,
		degraded:  make(map[string]error),
		rooms:     make(map[int]*domain.Room),
		gone:      make(map[int]struct{}),
		cursors:   make(map[cursorKey]*domain.Cursor),
	}, nil
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string {
	return s.id
}

// Start opens every stream in the background and returns immediately.
// The subscription outlives ctx; use Disconnect to stop it.
func (s *Subscription) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.state == StateTerminated {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.ctx = log.WithLogger(s.ctx, s.logger)

	specs := []streamSpec{
		{inst: s.endpoints.Core, path: "users", core: true, apply: s.applyCore},
		{inst: s.endpoints.Presence, path: "users/" + url.PathEscape(s.userID) + "/presence", apply: s.applyPresence},
		{inst: s.endpoints.Cursors, path: "cursors/0/users/" + url.PathEscape(s.userID), apply: s.applyCursors},
		{inst: s.endpoints.Files, path: "users/" + url.PathEscape(s.userID) + "/files", apply: s.applyFiles},
	}
	for _, spec := range specs {
		if spec.inst == nil {
			continue
		}
		s.wg.Add(1)
		go s.run(spec)
	}
	s.logger.Info().Str(log.FieldState, s.state.String()).Msg("subscription started")
}

// run owns one stream. Non-core streams are opened straight away but not
// read until the core stream has delivered the current user.
func (s *Subscription) run(spec streamSpec) {
	defer s.wg.Done()
	service := spec.inst.ServiceName()
	logger := s.logger.With().Str(log.FieldService, service).Str(log.FieldStream, spec.path).Logger()

	stream, err := spec.inst.Open(s.ctx, spec.path, s.tokens)

	if !spec.core {
		select {
		case <-s.active:
		case <-s.done:
			if stream != nil {
				_ = stream.Close()
			}
			return
		}
	}

	if err != nil {
		logger.Error().Err(err).Msg("failed to open stream")
		s.streamFailed(service, spec.core, err)
		return
	}
	if !s.track(stream) {
		_ = stream.Close()
		return
	}
	logger.Debug().Msg("stream opened")

	deliveries := stream.Deliveries()
	for {
		select {
		case <-s.done:
			return
		case d, ok := <-deliveries:
			if !ok {
				logger.Warn().Msg("stream closed by transport")
				s.streamFailed(service, spec.core, ErrStreamClosed)
				return
			}
			if !s.handle(service, spec, d, logger) {
				return
			}
		}
	}
}

// handle applies one delivery and reports whether the stream is still live.
func (s *Subscription) handle(service string, spec streamSpec, d transport.Delivery, logger zerolog.Logger) bool {
	switch {
	case d.Err != nil && d.Fatal:
		logger.Error().Err(d.Err).Msg("stream failed")
		s.streamFailed(service, spec.core, d.Err)
		return false
	case d.Err != nil:
		s.streamDegraded(service, d.Err)
	case d.Event != nil:
		s.apply(service, spec.apply, d.Event)
	}
	return true
}

func (s *Subscription) track(stream transport.Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return false
	}
	s.streams = append(s.streams, stream)
	return true
}

func (s *Subscription) apply(service string, fn eventHandler, evt *domain.ChatEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return
	}
	if _, ok := s.degraded[service]; ok {
		delete(s.degraded, service)
		s.logger.Info().Str(log.FieldService, service).Msg("stream resumed")
		if s.state == StateDegraded && len(s.degraded) == 0 {
			s.setStateLocked(StateActive)
		}
	}
	fn(evt)
}

// streamDegraded handles a recoverable error: the stream's events are
// paused until the transport delivers again.
func (s *Subscription) streamDegraded(service string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return
	}
	s.logger.Warn().Err(err).Str(log.FieldService, service).Msg("stream degraded")
	s.degraded[service] = err
	if s.state == StateActive {
		s.setStateLocked(StateDegraded)
	}
	s.listeners.Error(&StreamError{Service: service, Err: err})
}

// streamFailed handles a stream that will deliver no more events. Losing
// the core stream terminates the subscription; losing another leaves it
// degraded.
func (s *Subscription) streamFailed(service string, core bool, err error) {
	if !core {
		s.streamDegraded(service, err)
		return
	}
	s.terminate(&StreamError{Service: service, Err: err, Fatal: true})
}

// Disconnect closes every stream and waits for the stream goroutines to
// exit. No callback is scheduled afterwards.
func (s *Subscription) Disconnect() {
	s.terminate(nil)
	s.wg.Wait()
}

func (s *Subscription) terminate(cause error) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateTerminated)
	s.err = cause
	if cause != nil {
		s.listeners.Error(cause)
	}
	close(s.done)
	if s.cancel != nil {
		s.cancel()
	}
	streams := s.streams
	s.streams = nil
	s.mu.Unlock()

	s.users.Close()
	for _, st := range streams {
		if err := st.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("stream close")
		}
	}
}

func (s *Subscription) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.logger.Info().
		Str("from", s.state.String()).
		Str(log.FieldState, next.String()).
		Msg("subscription state changed")
	s.state = next
}

// decode unmarshals an event payload, logging and reporting false on failure.
func (s *Subscription) decode(evt *domain.ChatEvent, v any) bool {
	if err := s.codec.DecodeEvent(evt.EventName, evt.Data, v); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldEventName, evt.EventName).Msg("dropping undecodable event")
		return false
	}
	return true
}

func (s *Subscription) unknownEvent(service string, evt *domain.ChatEvent) {
	s.logger.Warn().
		Str(log.FieldService, service).
		Str(log.FieldEventName, evt.EventName).
		Msg("dropping unknown event")
}

// Done is closed once the subscription has terminated.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that terminated the subscription, or nil.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentUser returns the current user snapshot, or nil before the core
// stream's initial state.
func (s *Subscription) CurrentUser() *domain.CurrentUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentUser == nil {
		return nil
	}
	return &domain.CurrentUser{User: s.currentUser, Rooms: s.roomsLocked()}
}

// Rooms returns the joined rooms ordered by id.
func (s *Subscription) Rooms() []*domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomsLocked()
}

// Room looks up a room by id.
func (s *Subscription) Room(id int) (*domain.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	return r, ok
}

// Cursor returns userID's cursor in roomID.
func (s *Subscription) Cursor(roomID int, userID string) (*domain.Cursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[cursorKey{roomID: roomID, userID: userID}]
	return c, ok
}

// Users returns every user known to the subscription.
func (s *Subscription) Users() []*domain.User {
	return s.users.Users()
}

func (s *Subscription) roomsLocked() []*domain.Room {
	out := make([]*domain.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
