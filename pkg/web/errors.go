package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/traction-hq/traction/pkg/engine"
	"github.com/traction-hq/traction/pkg/persistence"
	"github.com/traction-hq/traction/pkg/registry"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, errType, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(errType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps registry, persistence and engine errors to RFC 7807
// responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case registry.IsValidationError(err):
		return badRequest(c, err.Error())

	case errors.Is(err, engine.ErrTemplateInactive):
		return conflict(c, "template_inactive", err.Error())

	case engine.IsInvalidTransition(err):
		return conflict(c, "invalid_transition", err.Error())

	case persistence.IsTemplateNotFound(err):
		return notFound(c, "template not found")

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution not found")

	case persistence.IsDraftNotFound(err):
		return notFound(c, "draft not found")

	default:
		return internalError(c, err)
	}
}
