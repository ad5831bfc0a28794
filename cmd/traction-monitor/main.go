// traction-monitor runs the SLA scan that flags overdue workflow steps.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/traction-hq/traction/pkg/cmd"
	"github.com/traction-hq/traction/pkg/log"
	"github.com/traction-hq/traction/pkg/monitor"
)

func main() {
	command := &cli.Command{
		Name:                  "traction-monitor",
		Usage:                 "Flag workflow steps that blew past their due date",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron schedule for the overdue scan",
				Value:   monitor.DefaultSchedule,
				Sources: cli.EnvVars("MONITOR_SCHEDULE"),
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

			logger := log.WithModule("monitor")
			logger.InfoContext(ctx, "Initializing Traction SLA monitor")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "traction-monitor", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := monitor.NewMonitor(persistence, eventBus, logger)
			if err := m.Start(runCtx, command.String("schedule")); err != nil {
				return err
			}

			<-runCtx.Done()
			m.Stop()

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
