// traction-signals drains externally produced step signals from a Redis
// queue and applies them to running executions.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	redis "github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/traction-hq/traction/pkg/automation"
	"github.com/traction-hq/traction/pkg/cmd"
	"github.com/traction-hq/traction/pkg/engine"
	"github.com/traction-hq/traction/pkg/log"
	"github.com/traction-hq/traction/pkg/registry"
	"github.com/traction-hq/traction/pkg/signals"
)

func main() {
	command := &cli.Command{
		Name:                  "traction-signals",
		Usage:                 "Apply external CRM step signals to running executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL for the signal queue",
				Value:   "redis://localhost:6379",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "queue",
				Usage:   "Redis list to consume signals from",
				Value:   signals.DefaultQueue,
				Sources: cli.EnvVars("SIGNALS_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, memory)",
				Value:   "memory",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("signals")
			logger.InfoContext(ctx, "Initializing Traction signal consumer")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "traction-signals", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			opts, err := redis.ParseURL(command.String("redis-url"))
			if err != nil {
				return err
			}

			client := redis.NewClient(opts)
			defer func() {
				if err := client.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close Redis client", "error", err)
				}
			}()

			reg := registry.NewRegistry(persistence, logger)
			dispatcher := automation.NewDispatcher(logger, automation.WithPublisher(eventBus))
			eng := engine.NewEngine(persistence, reg, dispatcher, logger,
				engine.WithPublisher(eventBus),
			)

			consumer, err := signals.NewConsumer(client, command.String("queue"), eng, logger)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := consumer.Start(runCtx); err != nil {
				return err
			}

			<-runCtx.Done()

			return consumer.Stop(context.Background())
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
