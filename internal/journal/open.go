package journal

import (
	"context"
	"fmt"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/config"
	pkgdb "github.com/ahwlsqja/buddyguard-ops/pkg/db"
)

// Open builds the store selected by JOURNAL_DRIVER.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Journal.Driver {
	case "", "none":
		return NopStore{}, nil
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		store, err := NewFileStore(cfg.Journal.Path)
		if err != nil {
			return nil, errors.Configuration(fmt.Sprintf("failed to open journal file %s", cfg.Journal.Path)).WithError(err)
		}
		return store, nil
	case "mysql":
		database, err := pkgdb.New(cfg.Database.Pool())
		if err != nil {
			return nil, errors.DBError(err)
		}
		store, err := NewMySQLStore(ctx, database)
		if err != nil {
			database.Close()
			return nil, errors.DBError(err)
		}
		return store, nil
	case "postgres":
		store, err := NewPostgresStore(ctx, cfg.Journal.PostgresDSN)
		if err != nil {
			return nil, errors.DBError(err)
		}
		return store, nil
	default:
		return nil, errors.Configuration(fmt.Sprintf("unknown JOURNAL_DRIVER %q", cfg.Journal.Driver))
	}
}
