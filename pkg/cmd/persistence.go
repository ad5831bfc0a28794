// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/traction-hq/traction/pkg/persistence"
	"github.com/traction-hq/traction/pkg/persistence/file"
	"github.com/traction-hq/traction/pkg/persistence/postgresql"
	"github.com/traction-hq/traction/pkg/persistence/redis"
)

// NewPersistence selects the persistence backend from the database URL
// scheme: postgres://, redis:// or a file path / file:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "redis":
		return redis.NewPersistence(ctx, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgres"
	case "redis", "rediss":
		return "redis"
	case "file":
		return "file"
	default:
		panic(fmt.Sprintf("unsupported persistence provider: %s", scheme))
	}
}
