package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/weiawesome/wes-io-live-chatkit/pkg/log"
)

// channelToTopicAndKey converts a stream channel to a Kafka topic and message key.
//
//	"chatkit:chatkit_presence:stream:users/alice/presence" → topic: "chatkit-presence", key: "users/alice/presence"
//	"chatkit:chatkit:stream:users"                         → topic: "chatkit", key: "users"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	service, path, err := parseStreamChannel(channel)
	if err != nil {
		return "", "", err
	}
	topic = sanitizeTopic(strings.ReplaceAll(service, "_", "-"))
	return topic, path, nil
}

// kafkaSubscription tracks a single consumer subscription.
type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

// KafkaSubscriber implements Subscriber using Apache Kafka. Every stream
// channel maps to one topic per service; the stream path is the message
// key and is used to filter.
type KafkaSubscriber struct {
	subscriptions map[string]*kafkaSubscription
	config        KafkaConfig
	mu            sync.Mutex
}

// NewKafkaSubscriber creates a new Kafka-based Subscriber.
func NewKafkaSubscriber(cfg KafkaConfig) (*KafkaSubscriber, error) {
	if cfg.Brokers == "" {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	return &KafkaSubscriber{
		subscriptions: make(map[string]*kafkaSubscription),
		config:        cfg,
	}, nil
}

// Subscribe creates a consumer for the channel's topic, filtering by key.
func (k *KafkaSubscriber) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, ok := k.subscriptions[channel]; ok {
		existing.stop()
		delete(k.subscriptions, channel)
	}

	groupID := k.config.GroupID
	if groupID == "" {
		groupID = "chatkit"
	}
	offsetReset := k.config.AutoOffsetReset
	if offsetReset == "" {
		offsetReset = "latest"
	}

	// Each stream is an independent reader; a shared group would split
	// partitions between subscriptions.
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       k.config.Brokers,
		"group.id":                fmt.Sprintf("%s-%s", groupID, sanitizeGroupID(channel)),
		"auto.offset.reset":       offsetReset,
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	eventCh := make(chan *Event, 100)
	sub := &kafkaSubscription{consumer: c, cancel: cancel, done: make(chan struct{})}
	k.subscriptions[channel] = sub

	go k.consumeMessages(subCtx, sub, eventCh, key)

	return eventCh, nil
}

// consumeMessages polls Kafka and forwards matching events to the channel.
func (k *KafkaSubscriber) consumeMessages(ctx context.Context, sub *kafkaSubscription, eventCh chan<- *Event, key string) {
	defer close(sub.done)
	defer close(eventCh)
	l := log.L()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := sub.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if string(e.Key) != key {
				continue
			}

			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l.Warn().Err(err).Str("key", key).Msg("kafka pubsub: invalid payload")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			}

		case kafka.Error:
			l.Warn().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka pubsub error")
			if e.IsFatal() {
				return
			}

		default:
			// Offsets committed, rebalances and the like.
		}
	}
}

// stop cancels the poll loop, waits for it, then closes the consumer.
func (s *kafkaSubscription) stop() error {
	s.cancel()
	<-s.done
	return s.consumer.Close()
}

// Unsubscribe removes a channel subscription.
func (k *KafkaSubscriber) Unsubscribe(ctx context.Context, channel string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if sub, ok := k.subscriptions[channel]; ok {
		delete(k.subscriptions, channel)
		if err := sub.stop(); err != nil {
			return fmt.Errorf("failed to close consumer: %w", err)
		}
	}

	return nil
}

// Close closes all subscriptions.
func (k *KafkaSubscriber) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for key, sub := range k.subscriptions {
		sub.stop()
		delete(k.subscriptions, key)
	}

	return nil
}

var (
	groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	topicRegexp   = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// sanitizeGroupID replaces characters not suitable for Kafka group IDs.
func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}

func sanitizeTopic(s string) string {
	return topicRegexp.ReplaceAllString(s, "-")
}
