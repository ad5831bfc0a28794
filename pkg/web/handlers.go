// Package web provides HTTP handlers and REST API endpoints for template and
// execution management.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/traction-hq/traction/pkg/autosave"
	"github.com/traction-hq/traction/pkg/engine"
	"github.com/traction-hq/traction/pkg/models"
	"github.com/traction-hq/traction/pkg/registry"
)

// draftKeyPrefix namespaces template editing drafts in the draft store.
const draftKeyPrefix = "template:"

type APIHandlers struct {
	registry  *registry.Registry
	engine    *engine.Engine
	drafts    *autosave.Manager
	validator *validator.Validate
}

func NewAPIHandlers(
	reg *registry.Registry,
	eng *engine.Engine,
	drafts *autosave.Manager,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		registry:  reg,
		engine:    eng,
		drafts:    drafts,
		validator: validate,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, ok := h.registry.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Traction API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Traction API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry": registryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	templates, err := h.registry.List(c.Context())
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"templates":   templates,
		"total_count": len(templates),
	})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	template, err := h.registry.Get(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) CreateTemplate(c fiber.Ctx) error {
	var req CreateTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	registered, err := h.registry.Register(c.Context(), req.ToModel())
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(registered)
}

func (h *APIHandlers) DeleteTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	if err := h.registry.Delete(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SetTemplateActive(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	var req SetActiveRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	template, err := h.registry.SetActive(c.Context(), id, req.Active)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(template)
}

// UpdateDraft buffers the latest editing state for a template. The write is
// debounced; the response only acknowledges the buffer.
func (h *APIHandlers) UpdateDraft(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	body := c.Body()
	if len(body) == 0 {
		return badRequest(c, "Draft body is required")
	}

	saver := h.drafts.For(draftKeyPrefix + id)
	if err := saver.Update(body); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"buffered": true})
}

// SaveDraft flushes the buffered state immediately.
func (h *APIHandlers) SaveDraft(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	saver := h.drafts.For(draftKeyPrefix + id)
	if err := saver.SaveNow(c.Context()); err != nil {
		return internalError(c, err)
	}

	return h.draftStatus(c, saver)
}

func (h *APIHandlers) GetDraft(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	draft, err := h.drafts.For(draftKeyPrefix + id).LoadDraft(c.Context())
	if err != nil {
		return handleEngineError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	return c.Send(draft)
}

func (h *APIHandlers) GetDraftStatus(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	return h.draftStatus(c, h.drafts.For(draftKeyPrefix+id))
}

func (h *APIHandlers) DeleteDraft(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	if err := h.drafts.For(draftKeyPrefix + id).ClearDraft(c.Context()); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) draftStatus(c fiber.Ctx, saver *autosave.Saver) error {
	has, err := saver.HasDraft(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	response := DraftStatusResponse{
		HasDraft: has,
		Dirty:    saver.Dirty(),
	}

	if lastSaved := saver.LastSavedAt(); !lastSaved.IsZero() {
		response.LastSavedAt = lastSaved.Format(time.RFC3339)
	}

	return c.JSON(response)
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.engine.ExecuteWorkflow(c.Context(), req.WorkflowID, req.OpportunityID, req.ExecutedBy)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	activeOnly := false

	if activeStr := c.Query("active"); activeStr != "" {
		parsed, err := strconv.ParseBool(activeStr)
		if err != nil {
			return badRequest(c, "Invalid active filter: "+err.Error())
		}

		activeOnly = parsed
	}

	list := h.engine.ListExecutions
	if activeOnly {
		list = h.engine.GetActiveExecutions
	}

	executions, err := list(c.Context())
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":  executions,
		"total_count": len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.engine.GetExecution(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CompleteStep(c fiber.Ctx) error {
	return h.stepAction(c, h.engine.CompleteStep)
}

func (h *APIHandlers) SkipStep(c fiber.Ctx) error {
	return h.stepAction(c, h.engine.SkipStep)
}

// stepAction handles the shared shape of complete and skip: an execution id
// plus an optional acting user in the body.
func (h *APIHandlers) stepAction(c fiber.Ctx, op func(context.Context, string, string) (*models.WorkflowExecution, error)) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req StepActionRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := op(c.Context(), id, req.By)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) FailStep(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req FailStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.engine.FailStep(c.Context(), id, req.Reason)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.engine.PauseExecution(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.engine.ResumeExecution(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req CancelExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	execution, err := h.engine.CancelExecution(c.Context(), id, req.CancelledBy, req.Reason)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}
