package chatkit

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/codec"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/credential"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/dispatcher"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/subscription"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport/ws"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/userstore"
	"github.com/weiawesome/wes-io-live-chatkit/pkg/log"
)

// Manager owns the connection of one user.
type Manager struct {
	cfg    Config
	logger zerolog.Logger
	codec  *codec.Codec

	mu    sync.Mutex
	sub   *subscription.Subscription
	queue *dispatcher.Queue
}

// New validates cfg and returns a Manager. Nothing is opened until Connect.
func New(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logger = log.New(log.Config{Level: cfg.LogLevel, ServiceName: "chatkit"})
	}

	c := cfg.Codec
	if c == nil {
		c = codec.Default()
	}
	if cfg.Factory == nil {
		cfg.Factory = ws.NewFactory(ws.DefaultConfig())
	}

	return &Manager{cfg: cfg, logger: logger, codec: c}, nil
}

// Connect starts the subscription and returns once it is set up. Stream
// activity continues in the background; its outcome, errors included,
// is reported to listener.
func (m *Manager) Connect(ctx context.Context, listener dispatcher.Listener) (*subscription.Subscription, error) {
	if listener == nil {
		return nil, &ConfigurationError{Field: "listener"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub != nil {
		return nil, errors.New("chatkit: already connected")
	}

	tokens, err := credential.Bind(m.cfg.TokenProvider, m.cfg.UserID)
	if err != nil {
		return nil, &ConfigurationError{Field: "TokenProvider", Reason: err.Error()}
	}
	tokens = credential.WithInitialParams(tokens, m.cfg.TokenParams)

	base := m.cfg.Base
	if base == nil {
		base = &transport.Base{Logger: m.logger}
	}
	if base.Codec == nil {
		b := *base
		b.Codec = m.codec
		base = &b
	}

	endpoints, err := transport.NewEndpoints(m.cfg.Factory, transport.EndpointConfig{
		Locator:        m.cfg.InstanceLocator,
		Version:        m.cfg.Version,
		PlatformDomain: m.cfg.PlatformDomain,
		Base:           base,
	})
	if err != nil {
		return nil, err
	}

	exec := m.cfg.Executor
	var queue *dispatcher.Queue
	if exec == nil {
		queue = dispatcher.NewQueue(m.logger)
		exec = queue
	}

	users := userstore.New(userstore.NewInstanceFetcher(endpoints.Core, tokens, m.codec), m.logger)
	sub, err := subscription.New(subscription.Config{
		UserID:    m.cfg.UserID,
		Endpoints: endpoints,
		Tokens:    tokens,
		Listeners: dispatcher.From(listener, exec, m.logger),
		Users:     users,
		Codec:     m.codec,
		Logger:    m.logger,
	})
	if err != nil {
		if queue != nil {
			queue.Close()
		}
		return nil, err
	}

	sub.Start(ctx)
	m.sub = sub
	m.queue = queue

	m.logger.Info().
		Str(log.FieldUserID, m.cfg.UserID).
		Str(log.FieldSubscriptionID, sub.ID()).
		Msg("connecting")
	return sub, nil
}

// Subscription returns the active subscription, or nil.
func (m *Manager) Subscription() *subscription.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sub
}

// Disconnect terminates the subscription. Callbacks already scheduled on
// the Manager's own queue still run before it returns, so it must not be
// called from a listener callback when Executor is unset. The Manager can
// connect again afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	sub, queue := m.sub, m.queue
	m.sub, m.queue = nil, nil
	m.mu.Unlock()

	if sub != nil {
		sub.Disconnect()
	}
	if queue != nil {
		queue.Close()
	}
}
