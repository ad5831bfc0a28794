// Package main provides the Traction API server implementation.
package main

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/traction-hq/traction/pkg/automation"
	"github.com/traction-hq/traction/pkg/autosave"
	"github.com/traction-hq/traction/pkg/engine"
	"github.com/traction-hq/traction/pkg/eventbus"
	"github.com/traction-hq/traction/pkg/persistence"
	"github.com/traction-hq/traction/pkg/registry"
	"github.com/traction-hq/traction/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
	saveDelay   time.Duration

	drafts *autosave.Manager
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	saveDelay time.Duration,
) *API {
	return &API{
		logger:      logger,
		persistence: p,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		saveDelay:   saveDelay,
	}
}

func (a *API) App() *fiber.App {
	reg := registry.NewRegistry(a.persistence, a.logger)
	dispatcher := automation.NewDispatcher(a.logger, automation.WithPublisher(a.eventBus))
	eng := engine.NewEngine(a.persistence, reg, dispatcher, a.logger,
		engine.WithPublisher(a.eventBus),
	)

	a.drafts = autosave.NewManager(a.persistence.DraftRepository(), a.logger,
		autosave.WithDelay(a.saveDelay),
	)

	handlers := web.NewAPIHandlers(reg, eng, a.drafts, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Traction API")
	})

	web.RegisterRoutes(app, handlers)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}

// Shutdown flushes buffered drafts.
func (a *API) Shutdown() error {
	if a.drafts == nil {
		return nil
	}

	return a.drafts.Close()
}
