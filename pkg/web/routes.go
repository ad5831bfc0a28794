package web

import "github.com/gofiber/fiber/v3"

// RegisterRoutes mounts the template, draft and execution endpoints.
func RegisterRoutes(app *fiber.App, h *APIHandlers) {
	app.Get("/health", h.HealthCheck)

	templates := app.Group("/templates")
	templates.Get("/", h.GetTemplates)
	templates.Post("/", h.CreateTemplate)
	templates.Get("/:id", h.GetTemplate)
	templates.Delete("/:id", h.DeleteTemplate)
	templates.Patch("/:id/active", h.SetTemplateActive)

	templates.Put("/:id/draft", h.UpdateDraft)
	templates.Get("/:id/draft", h.GetDraft)
	templates.Delete("/:id/draft", h.DeleteDraft)
	templates.Post("/:id/draft/save", h.SaveDraft)
	templates.Get("/:id/draft/status", h.GetDraftStatus)

	executions := app.Group("/executions")
	executions.Post("/", h.StartExecution)
	executions.Get("/", h.GetExecutions)
	executions.Get("/:id", h.GetExecution)
	executions.Post("/:id/complete", h.CompleteStep)
	executions.Post("/:id/skip", h.SkipStep)
	executions.Post("/:id/fail", h.FailStep)
	executions.Post("/:id/pause", h.PauseExecution)
	executions.Post("/:id/resume", h.ResumeExecution)
	executions.Post("/:id/cancel", h.CancelExecution)
}
