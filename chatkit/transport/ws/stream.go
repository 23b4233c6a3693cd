package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/credential"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
	"github.com/weiawesome/wes-io-live-chatkit/pkg/log"
)

// ErrRetriesExhausted is wrapped by the fatal delivery sent when a stream
// gives up reconnecting.
var ErrRetriesExhausted = errors.New("ws: reconnect attempts exhausted")

type stream struct {
	inst   *Instance
	target string
	tokens credential.Provider
	logger zerolog.Logger

	deliveries chan transport.Delivery
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
	once sync.Once
}

func newStream(inst *Instance, target, path string, tokens credential.Provider, logger zerolog.Logger) *stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &stream{
		inst:       inst,
		target:     target,
		tokens:     tokens,
		logger:     logger.With().Str(log.FieldStream, path).Logger(),
		deliveries: make(chan transport.Delivery),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (s *stream) Deliveries() <-chan transport.Delivery {
	return s.deliveries
}

// Close stops the stream and waits for its reader to exit.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = s.conn.Close()
		}
		s.mu.Unlock()
	})
	<-s.done
	return err
}

func (s *stream) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := fetchToken(ctx, s.tokens)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	if s.inst.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.inst.cfg.DialTimeout)
		defer cancel()
	}

	conn, resp, err := s.inst.dialer.DialContext(ctx, s.target, header)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized {
				clearToken(s.tokens, token)
			}
			return nil, fmt.Errorf("ws: dial %s: %w", s.target, &transport.StatusError{Status: resp.StatusCode})
		}
		return nil, fmt.Errorf("ws: dial %s: %w", s.target, err)
	}
	if s.inst.cfg.ReadLimit > 0 {
		conn.SetReadLimit(s.inst.cfg.ReadLimit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		conn.Close()
		return nil, s.ctx.Err()
	}
	s.conn = conn
	return conn, nil
}

// run reads frames until the stream is closed or reconnection gives up.
func (s *stream) run(conn *websocket.Conn) {
	defer close(s.done)
	defer close(s.deliveries)

	for {
		err := s.read(conn)
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Msg("stream read failed")
		if !s.send(transport.Delivery{Err: err}) {
			return
		}

		conn = s.reconnect()
		if conn == nil {
			return
		}
	}
}

func (s *stream) read(conn *websocket.Conn) error {
	defer conn.Close()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var evt domain.ChatEvent
		if err := s.inst.codec.Decode(data, &evt); err != nil {
			s.logger.Warn().Err(err).Msg("invalid frame")
			continue
		}
		if !s.send(transport.Delivery{Event: &evt}) {
			return s.ctx.Err()
		}
	}
}

// reconnect redials with linear backoff. It returns nil after sending the
// fatal delivery or when the stream is closed.
func (s *stream) reconnect() *websocket.Conn {
	policy := s.inst.retries
	var lastErr error
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		select {
		case <-time.After(policy.Delay(attempt)):
		case <-s.ctx.Done():
			return nil
		}

		conn, err := s.dial(s.ctx)
		if err == nil {
			s.logger.Info().Int(log.FieldAttempt, attempt).Msg("stream reconnected")
			return conn
		}
		if s.ctx.Err() != nil {
			return nil
		}
		lastErr = err
		s.logger.Warn().Err(err).Int(log.FieldAttempt, attempt).Msg("reconnect failed")
	}

	err := ErrRetriesExhausted
	if lastErr != nil {
		err = fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
	}
	s.send(transport.Delivery{Err: err, Fatal: true})
	return nil
}

func (s *stream) send(d transport.Delivery) bool {
	select {
	case s.deliveries <- d:
		return true
	case <-s.ctx.Done():
		return false
	}
}
