package domain

import (
	"context"
	"time"
)

// PositionStore persists positions together with their event history.
type PositionStore interface {
	// Save upserts the position and replaces its stored history.
	Save(ctx context.Context, pos Position) error
	Get(ctx context.Context, key PositionKey) (Position, error)
	ListByOwner(ctx context.Context, chainID int64, owner string) ([]PositionKey, error)
	// ListStale returns keys of non-terminated positions last updated before t.
	ListStale(ctx context.Context, before time.Time, limit int) ([]PositionKey, error)
}
