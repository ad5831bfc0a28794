package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/traction-hq/traction/pkg/channels/gochannel"
	"github.com/traction-hq/traction/pkg/channels/kafka"
	"github.com/traction-hq/traction/pkg/eventbus"
)

// NewEventBus creates the lifecycle event bus. "kafka" fans events out to
// the configured brokers; "memory" stays in-process and suits single-binary
// deployments and development.
func NewEventBus(provider, serviceName string, logger *slog.Logger) eventbus.EventBus {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "memory":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create in-memory pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
