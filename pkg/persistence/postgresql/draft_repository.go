package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/traction-hq/traction/pkg/persistence"
)

// DraftRepository stores auto-save drafts in the drafts table.
type DraftRepository struct {
	db *sql.DB
}

func (dr *DraftRepository) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var value []byte

	err := dr.db.QueryRowContext(ctx, "SELECT value FROM drafts WHERE key = $1", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrDraftNotFound
	}

	if err != nil {
		return nil, err
	}

	return json.RawMessage(value), nil
}

func (dr *DraftRepository) Set(ctx context.Context, key string, value json.RawMessage) error {
	_, err := dr.db.ExecContext(ctx, `
		INSERT INTO drafts (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
	`, key, []byte(value))

	return err
}

func (dr *DraftRepository) Delete(ctx context.Context, key string) error {
	_, err := dr.db.ExecContext(ctx, "DELETE FROM drafts WHERE key = $1", key)

	return err
}
