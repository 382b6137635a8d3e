package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/refiner/pkg/model"
)

var (
	// ErrCorrupted is returned when persisted history cannot be decoded
	ErrCorrupted = goerr.New("persisted history is corrupted")
)

// Repository persists the history log as a whole. Every save replaces the
// previously stored log.
type Repository interface {
	// LoadHistory returns the stored log, or an empty log if nothing is stored
	LoadHistory(ctx context.Context) ([]*model.HistoryItem, error)

	// SaveHistory replaces the stored log with items
	SaveHistory(ctx context.Context, items []*model.HistoryItem) error

	// Close releases the underlying store
	Close() error
}
