// Package bus serves streams from the event bus (Redis pub/sub or Kafka)
// instead of per-client websocket connections. Requests are forwarded to
// a fallback transport when one is configured.
package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/credential"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
	"github.com/weiawesome/wes-io-live-chatkit/pkg/log"
	"github.com/weiawesome/wes-io-live-chatkit/pkg/pubsub"
)

// Factory builds bus-backed instances sharing one subscriber.
type Factory struct {
	sub      pubsub.Subscriber
	fallback transport.Factory
}

// NewFactory creates a Factory. fallback may be nil.
func NewFactory(sub pubsub.Subscriber, fallback transport.Factory) *Factory {
	return &Factory{sub: sub, fallback: fallback}
}

// NewInstance implements transport.Factory.
func (f *Factory) NewInstance(opts transport.Options) (transport.Instance, error) {
	inst := &Instance{
		service: opts.ServiceName,
		sub:     f.sub,
		logger:  log.L(),
	}
	if opts.Base != nil {
		inst.logger = opts.Base.Logger
	}
	inst.logger = inst.logger.With().Str(log.FieldService, opts.ServiceName).Logger()

	if f.fallback != nil {
		fb, err := f.fallback.NewInstance(opts)
		if err != nil {
			return nil, err
		}
		inst.fallback = fb
	}
	return inst, nil
}

// Instance reads one service's streams off the bus.
type Instance struct {
	service  string
	sub      pubsub.Subscriber
	fallback transport.Instance
	logger   zerolog.Logger
}

// ServiceName implements transport.Instance.
func (i *Instance) ServiceName() string {
	return i.service
}

// Open subscribes to the stream's channel. Delivery stops when the bus
// closes the subscription.
func (i *Instance) Open(ctx context.Context, path string, _ credential.Provider) (transport.Stream, error) {
	channel := pubsub.StreamChannel(i.service, path)

	subCtx, cancel := context.WithCancel(context.Background())
	events, err := i.sub.Subscribe(subCtx, channel)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &stream{
		sub:        i.sub,
		channel:    channel,
		cancel:     cancel,
		deliveries: make(chan transport.Delivery),
		done:       make(chan struct{}),
	}
	go s.forward(subCtx, events)

	i.logger.Debug().Str(log.FieldStream, path).Str("channel", channel).Msg("bus stream opened")
	return s, nil
}

// Request forwards to the fallback instance.
func (i *Instance) Request(ctx context.Context, req transport.Request, tokens credential.Provider) ([]byte, error) {
	if i.fallback == nil {
		return nil, transport.ErrUnsupported
	}
	return i.fallback.Request(ctx, req, tokens)
}

type stream struct {
	sub        pubsub.Subscriber
	channel    string
	cancel     context.CancelFunc
	deliveries chan transport.Delivery
	done       chan struct{}
	once       sync.Once
}

func (s *stream) Deliveries() <-chan transport.Delivery {
	return s.deliveries
}

func (s *stream) forward(ctx context.Context, events <-chan *pubsub.Event) {
	defer close(s.done)
	defer close(s.deliveries)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			d := transport.Delivery{Event: &domain.ChatEvent{
				EventName: e.EventName,
				UserID:    e.UserID,
				Timestamp: e.Timestamp,
				Data:      e.Data,
			}}
			select {
			case s.deliveries <- d:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close unsubscribes and waits for the forwarder to exit.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.sub.Unsubscribe(context.Background(), s.channel)
	})
	<-s.done
	return err
}
