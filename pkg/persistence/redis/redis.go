// Package redis provides Redis-backed persistence for templates, executions,
// and drafts. Entities are stored as JSON strings with a set per collection
// used as the id index.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/traction-hq/traction/pkg/models"
	"github.com/traction-hq/traction/pkg/persistence"
)

const (
	templateKeyPrefix  = "traction:templates:"
	templateIndexKey   = "traction:templates"
	executionKeyPrefix = "traction:executions:"
	executionIndexKey  = "traction:executions"
	draftKeyPrefix     = "traction:drafts:"
)

// Persistence implements persistence.Persistence on a Redis instance.
type Persistence struct {
	client redis.UniversalClient
}

// NewPersistence connects to Redis using a redis:// URL.
func NewPersistence(ctx context.Context, redisURL string) (*Persistence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Persistence{client: client}, nil
}

// NewPersistenceWithClient wraps an existing client; used by tests.
func NewPersistenceWithClient(client redis.UniversalClient) *Persistence {
	return &Persistence{client: client}
}

func (p *Persistence) TemplateRepository() persistence.TemplateRepository {
	return &templateRepository{client: p.client}
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return &executionRepository{client: p.client}
}

func (p *Persistence) DraftRepository() persistence.DraftRepository {
	return &draftRepository{client: p.client}
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

type templateRepository struct {
	client redis.UniversalClient
}

func (tr *templateRepository) GetAll(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	ids, err := tr.client.SMembers(ctx, templateIndexKey).Result()
	if err != nil {
		return nil, persistence.NewTemplateError("GetAll", "", err)
	}

	templates := make([]*models.WorkflowTemplate, 0, len(ids))

	for _, id := range ids {
		template, err := tr.GetByID(ctx, id)
		if err != nil {
			// Index entry without a value means a concurrent delete; skip it.
			if persistence.IsTemplateNotFound(err) {
				continue
			}

			return nil, err
		}

		templates = append(templates, template)
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].CreatedAt.Before(templates[j].CreatedAt)
	})

	return templates, nil
}

func (tr *templateRepository) GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	data, err := tr.client.Get(ctx, templateKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.NewTemplateError("GetByID", id, persistence.ErrTemplateNotFound)
	}

	if err != nil {
		return nil, persistence.NewTemplateError("GetByID", id, err)
	}

	var template models.WorkflowTemplate
	if err := json.Unmarshal([]byte(data), &template); err != nil {
		return nil, persistence.NewTemplateError("GetByID", id, fmt.Errorf("corrupt template value: %w", err))
	}

	return &template, nil
}

func (tr *templateRepository) Save(ctx context.Context, template *models.WorkflowTemplate) error {
	data, err := json.Marshal(template)
	if err != nil {
		return persistence.NewTemplateError("Save", template.ID, err)
	}

	pipe := tr.client.TxPipeline()
	pipe.Set(ctx, templateKeyPrefix+template.ID, data, 0)
	pipe.SAdd(ctx, templateIndexKey, template.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewTemplateError("Save", template.ID, err)
	}

	return nil
}

func (tr *templateRepository) Delete(ctx context.Context, id string) error {
	removed, err := tr.client.Del(ctx, templateKeyPrefix+id).Result()
	if err != nil {
		return persistence.NewTemplateError("Delete", id, err)
	}

	if removed == 0 {
		return persistence.NewTemplateError("Delete", id, persistence.ErrTemplateNotFound)
	}

	if err := tr.client.SRem(ctx, templateIndexKey, id).Err(); err != nil {
		return persistence.NewTemplateError("Delete", id, err)
	}

	return nil
}

type executionRepository struct {
	client redis.UniversalClient
}

func (er *executionRepository) GetAll(ctx context.Context) ([]*models.WorkflowExecution, error) {
	ids, err := er.client.SMembers(ctx, executionIndexKey).Result()
	if err != nil {
		return nil, persistence.NewExecutionError("GetAll", "", err)
	}

	executions := make([]*models.WorkflowExecution, 0, len(ids))

	for _, id := range ids {
		execution, err := er.GetByID(ctx, id)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, err
		}

		executions = append(executions, execution)
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

func (er *executionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	data, err := er.client.Get(ctx, executionKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	var execution models.WorkflowExecution
	if err := json.Unmarshal([]byte(data), &execution); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, fmt.Errorf("corrupt execution value: %w", err))
	}

	return &execution, nil
}

func (er *executionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	pipe := er.client.TxPipeline()
	pipe.Set(ctx, executionKeyPrefix+execution.ID, data, 0)
	pipe.SAdd(ctx, executionIndexKey, execution.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (er *executionRepository) Active(ctx context.Context) ([]*models.WorkflowExecution, error) {
	all, err := er.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.WorkflowExecution, 0)

	for _, execution := range all {
		if !execution.Status.Terminal() {
			active = append(active, execution)
		}
	}

	return active, nil
}

type draftRepository struct {
	client redis.UniversalClient
}

func (dr *draftRepository) key(key string) string {
	return draftKeyPrefix + strings.ReplaceAll(key, " ", "_")
}

func (dr *draftRepository) Get(ctx context.Context, key string) (json.RawMessage, error) {
	data, err := dr.client.Get(ctx, dr.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrDraftNotFound
	}

	if err != nil {
		return nil, err
	}

	return json.RawMessage(data), nil
}

func (dr *draftRepository) Set(ctx context.Context, key string, value json.RawMessage) error {
	return dr.client.Set(ctx, dr.key(key), []byte(value), 0).Err()
}

func (dr *draftRepository) Delete(ctx context.Context, key string) error {
	return dr.client.Del(ctx, dr.key(key)).Err()
}
