// Package registry holds named workflow template definitions and validates
// them on the way in.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/traction-hq/traction/pkg/models"
	"github.com/traction-hq/traction/pkg/persistence"
)

// ErrInvalidTemplate indicates a template failed validation; the caller can
// correct and retry.
var ErrInvalidTemplate = errors.New("invalid template")

// IsValidationError checks whether an error stems from template validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidTemplate)
}

// Registry is the template registry: a validated, idempotent upsert store
// keyed by template id.
type Registry struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewRegistry(p persistence.Persistence, logger *slog.Logger) *Registry {
	return &Registry{
		persistence: p,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "template_registry"),
	}
}

// Register upserts a template by id. Missing ids (template, steps, rules,
// actions) are assigned; registering the same id again replaces the stored
// definition without touching in-flight executions, which hold snapshots.
func (r *Registry) Register(ctx context.Context, template *models.WorkflowTemplate) (*models.WorkflowTemplate, error) {
	if template.ID == "" {
		template.ID = uuid.New().String()
	}

	assignIdentifiers(template)

	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	if err := r.validate.Struct(template); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}

	if !models.ValidStage(template.Stage) {
		return nil, fmt.Errorf("%w: unknown pipeline stage %q", ErrInvalidTemplate, template.Stage)
	}

	if err := validateStepOrder(template.Steps); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}

	if err := r.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "Registered workflow template",
		"template_id", template.ID,
		"name", template.Name,
		"stage", template.Stage,
		"steps", len(template.Steps),
		"rules", len(template.AutomationRules),
	)

	return template, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	return r.persistence.TemplateRepository().GetByID(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	return r.persistence.TemplateRepository().GetAll(ctx)
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.persistence.TemplateRepository().Delete(ctx, id)
}

// SetActive toggles the execution gate on a template.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) (*models.WorkflowTemplate, error) {
	template, err := r.persistence.TemplateRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	template.IsActive = active
	template.UpdatedAt = time.Now().UTC()

	if err := r.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return nil, err
	}

	return template, nil
}

// HealthCheck reports whether the backing persistence layer is reachable.
func (r *Registry) HealthCheck(ctx context.Context) (string, bool) {
	if err := r.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func assignIdentifiers(template *models.WorkflowTemplate) {
	for _, step := range template.Steps {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
	}

	for _, rule := range template.AutomationRules {
		if rule.ID == "" {
			rule.ID = uuid.New().String()
		}

		assignActionIdentifiers(rule.Actions)
	}
}

func assignActionIdentifiers(actions []*models.AutomationAction) {
	for _, action := range actions {
		if action.ID == "" {
			action.ID = uuid.New().String()
		}

		if action.Type == models.ActionTypeConditional && action.Conditional != nil {
			assignActionIdentifiers(action.Conditional.Actions)
		}
	}
}

// validateStepOrder checks step ids are unique and dependencies only
// reference earlier steps, so linear advancement is a valid topological
// order of the declared dependency edges.
func validateStepOrder(steps []*models.WorkflowStep) error {
	seen := make(map[string]int, len(steps))

	for i, step := range steps {
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}

		seen[step.ID] = i
	}

	for i, step := range steps {
		for _, dep := range step.Dependencies {
			depIndex, ok := seen[dep]
			if !ok {
				return fmt.Errorf("step %q depends on unknown step %q", step.ID, dep)
			}

			if depIndex >= i {
				return fmt.Errorf("step %q depends on later step %q; dependencies must reference earlier steps", step.ID, dep)
			}
		}
	}

	return nil
}
