package sqlite

import (
	"context"

	"silver/internal/storage"
)

// openDB is a test hook that points to Open by default.
var openDB = Open

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (*storage.DB, error) {
		db, err := openDB(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return storage.Wrap(db, "sqlite", Dialect{}, cfg.Schema), nil
	})
}
