package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/traction-hq/traction/pkg/persistence"
)

// DraftRepository stores auto-save drafts under <root>/drafts. Keys are
// caller-chosen strings; file names are derived by hashing so arbitrary keys
// stay filesystem-safe.
type DraftRepository struct {
	root string
}

func NewDraftRepository(root string) *DraftRepository {
	return &DraftRepository{root: root}
}

func (dr *DraftRepository) dir() string {
	return filepath.Join(dr.root, "drafts")
}

func (dr *DraftRepository) path(key string) string {
	sum := sha256.Sum256([]byte(key))

	return filepath.Join(dr.dir(), hex.EncodeToString(sum[:16])+".json")
}

func (dr *DraftRepository) Get(_ context.Context, key string) (json.RawMessage, error) {
	data, err := os.ReadFile(dr.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrDraftNotFound
		}

		return nil, err
	}

	return json.RawMessage(data), nil
}

func (dr *DraftRepository) Set(_ context.Context, key string, value json.RawMessage) error {
	if err := os.MkdirAll(dr.dir(), dirPerm); err != nil {
		return err
	}

	return os.WriteFile(dr.path(key), value, 0o644)
}

func (dr *DraftRepository) Delete(_ context.Context, key string) error {
	err := os.Remove(dr.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}
