package cli

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/refiner/pkg/usecase/history"
	"github.com/m-mizutani/refiner/pkg/usecase/refine"
	"github.com/m-mizutani/refiner/pkg/utils/logging"
)

// newStore opens the repository and loads the history. The returned function
// closes the repository.
func (cfg *config) newStore(ctx context.Context) (*history.Store, func(), error) {
	repo, err := cfg.newRepository()
	if err != nil {
		return nil, nil, err
	}

	closeRepo := func() {
		if err := repo.Close(); err != nil {
			logging.From(ctx).Error("failed to close repository", "error", err)
		}
	}

	return history.New(ctx, repo), closeRepo, nil
}

// newSession wires the Gemini client, the history store and the generator
func (cfg *config) newSession(ctx context.Context, opts ...refine.Option) (*refine.Session, func(), error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := cfg.newStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	logging.From(ctx).Debug("session ready",
		slog.String("history", cfg.historyPath),
		slog.Int("history_items", store.Len()),
	)

	return refine.NewSession(refine.NewGenerator(gemini), store, opts...), closeStore, nil
}
