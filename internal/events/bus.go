package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danghamo/geotrack/pkg/logger"
)

const topicPrefix = "geotrack-events."

// Drivers
const (
	DriverGoChannel   = "gochannel"
	DriverRedisStream = "redisstream"
)

// Config selects the transport behind the bus
type Config struct {
	Driver string
	// RedisClient is required for the redisstream driver
	RedisClient redis.UniversalClient
	// ConsumerGroup prefixes the per-handler redisstream consumer groups
	ConsumerGroup string
	BufferSize    int64
	CloseTimeout  time.Duration
}

// Bus is a watermill CQRS event bus with its processor and router
type Bus struct {
	eventBus  *cqrs.EventBus
	processor *cqrs.EventProcessor
	router    *message.Router
	logger    *logger.Logger

	// transport closers; redisstream subscribers are added as handlers register
	closers []func() error
}

// NewBus wires publisher, router, event bus and event processor for the configured driver
func NewBus(cfg Config, log *logger.Logger) (*Bus, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	wmLogger := log.Watermill()
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 5 * time.Second
	}

	b := &Bus{logger: log.WithComponent("event-bus")}

	var (
		publisher   message.Publisher
		subscribeTo func(handlerName string) (message.Subscriber, error)
	)

	switch cfg.Driver {
	case "", DriverGoChannel:
		pubSub := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.BufferSize,
		}, wmLogger)
		publisher = pubSub
		subscribeTo = func(string) (message.Subscriber, error) {
			return pubSub, nil
		}
		b.closers = append(b.closers, pubSub.Close)

	case DriverRedisStream:
		if cfg.RedisClient == nil {
			return nil, fmt.Errorf("redisstream driver requires a redis client")
		}
		pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client: cfg.RedisClient,
		}, wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create publisher: %w", err)
		}
		publisher = pub
		b.closers = append(b.closers, pub.Close)

		group := cfg.ConsumerGroup
		if group == "" {
			group = "geotrackd"
		}
		subscribeTo = func(handlerName string) (message.Subscriber, error) {
			// one consumer group per handler so every handler sees every event
			sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
				Client:        cfg.RedisClient,
				ConsumerGroup: group + "." + handlerName,
			}, wmLogger)
			if err != nil {
				return nil, err
			}
			b.closers = append(b.closers, sub.Close)
			return sub, nil
		}

	default:
		return nil, fmt.Errorf("unknown events driver: %s", cfg.Driver)
	}

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	marshaler := cqrs.JSONMarshaler{GenerateName: cqrs.StructName}

	eventBus, err := cqrs.NewEventBusWithConfig(publisher, cqrs.EventBusConfig{
		GeneratePublishTopic: func(params cqrs.GenerateEventPublishTopicParams) (string, error) {
			return topicPrefix + params.EventName, nil
		},
		Marshaler: marshaler,
		Logger:    wmLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	processor, err := cqrs.NewEventProcessorWithConfig(router, cqrs.EventProcessorConfig{
		GenerateSubscribeTopic: func(params cqrs.EventProcessorGenerateSubscribeTopicParams) (string, error) {
			return topicPrefix + params.EventName, nil
		},
		SubscriberConstructor: func(params cqrs.EventProcessorSubscriberConstructorParams) (message.Subscriber, error) {
			return subscribeTo(params.HandlerName)
		},
		AckOnUnknownEvent: true,
		Marshaler:         marshaler,
		Logger:            wmLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event processor: %w", err)
	}

	b.eventBus = eventBus
	b.processor = processor
	b.router = router
	return b, nil
}

// Publish sends an event to every handler registered for its type
func (b *Bus) Publish(ctx context.Context, event interface{}) error {
	return b.eventBus.Publish(ctx, event)
}

// AddHandlers registers event handlers; call before Run
func (b *Bus) AddHandlers(handlers ...cqrs.EventHandler) error {
	return b.processor.AddHandlers(handlers...)
}

// Run runs the router until ctx is done or Close is called
func (b *Bus) Run(ctx context.Context) error {
	b.logger.Info("Starting event router")
	return b.router.Run(ctx)
}

// Running is closed once the router is ready to deliver events
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Close stops the router and closes the transport
func (b *Bus) Close() error {
	err := b.router.Close()
	for _, c := range b.closers {
		if cerr := c(); cerr != nil {
			b.logger.Warn("Failed to close event transport", zap.Error(cerr))
		}
	}
	return err
}
