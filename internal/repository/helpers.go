package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/openclaw/broadcast-server-go/internal/database"
)

// getOne runs a single-row query written with ? placeholders. A missing row
// yields (nil, nil).
func getOne[T any](ctx context.Context, db database.DBTX, query string, args ...any) (*T, error) {
	var row T
	err := db.GetContext(ctx, &row, db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
