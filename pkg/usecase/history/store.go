package history

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/refiner/pkg/model"
	"github.com/m-mizutani/refiner/pkg/repository"
	"github.com/m-mizutani/refiner/pkg/utils/logging"
)

// DefaultMaxItems is the number of items kept in the log
const DefaultMaxItems = 50

var (
	ErrNotFound = goerr.New("history item not found")
)

// Store is the bounded, newest-first log of past refinements. Every mutation
// rewrites the whole log through the repository.
type Store struct {
	repo     repository.Repository
	maxItems int
	now      func() time.Time

	mu    sync.Mutex
	items []*model.HistoryItem
}

// Option is a functional option for Store
type Option func(*Store)

// WithMaxItems sets the log capacity
func WithMaxItems(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxItems = n
		}
	}
}

// WithClock replaces the time source used for new items
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Store and loads the persisted log once. A missing, unreadable or
// corrupted log is logged and the store starts empty.
func New(ctx context.Context, repo repository.Repository, opts ...Option) *Store {
	s := &Store{
		repo:     repo,
		maxItems: DefaultMaxItems,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	items, err := repo.LoadHistory(ctx)
	if err != nil {
		logging.From(ctx).Warn("failed to load history, starting with empty history", "error", err)
		items = nil
	}
	s.items = normalize(ctx, items, s.maxItems)

	return s
}

// normalize drops invalid and duplicated items and applies the cap
func normalize(ctx context.Context, items []*model.HistoryItem, maxItems int) []*model.HistoryItem {
	seen := make(map[model.HistoryID]struct{}, len(items))
	result := make([]*model.HistoryItem, 0, min(len(items), maxItems))

	for _, item := range items {
		if item == nil {
			continue
		}
		if err := item.Validate(); err != nil {
			logging.From(ctx).Debug("skip invalid history item", "error", err)
			continue
		}
		if _, ok := seen[item.ID]; ok {
			logging.From(ctx).Debug("skip duplicated history item", "id", item.ID)
			continue
		}
		seen[item.ID] = struct{}{}

		result = append(result, item)
		if len(result) == maxItems {
			break
		}
	}

	return result
}

// Add archives a refinement as the newest item. A blank refinedPrompt is not
// archived and Add returns (nil, nil).
func (s *Store) Add(ctx context.Context, originalPrompt, refinedPrompt string) (*model.HistoryItem, error) {
	if strings.TrimSpace(refinedPrompt) == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item := model.NewHistoryItem(originalPrompt, refinedPrompt, s.now())

	updated := make([]*model.HistoryItem, 0, len(s.items)+1)
	updated = append(updated, item)
	updated = append(updated, s.items...)
	if len(updated) > s.maxItems {
		updated = updated[:s.maxItems]
	}
	s.items = updated

	if err := s.persist(ctx); err != nil {
		return copyItem(item), err
	}

	logging.From(ctx).Debug("history item added", "id", item.ID, "items", len(s.items))
	return copyItem(item), nil
}

// Delete removes the item with id. Nothing is written if id is not in the log.
func (s *Store) Delete(ctx context.Context, id model.HistoryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make([]*model.HistoryItem, 0, len(s.items))
	for _, item := range s.items {
		if item.ID != id {
			updated = append(updated, item)
		}
	}
	if len(updated) == len(s.items) {
		return nil
	}
	s.items = updated

	return s.persist(ctx)
}

// Clear empties the log
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = []*model.HistoryItem{}
	return s.persist(ctx)
}

// Select looks up an item by id
func (s *Store) Select(id model.HistoryID) (*model.HistoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.items {
		if item.ID == id {
			return copyItem(item), nil
		}
	}

	return nil, goerr.Wrap(ErrNotFound, "no such history item", goerr.V("id", id))
}

// List returns the log newest-first
func (s *Store) List() []*model.HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]*model.HistoryItem, len(s.items))
	for i, item := range s.items {
		items[i] = copyItem(item)
	}
	return items
}

// Len returns the number of items in the log
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) persist(ctx context.Context) error {
	if err := s.repo.SaveHistory(ctx, s.items); err != nil {
		return goerr.Wrap(err, "failed to persist history", goerr.V("items", len(s.items)))
	}
	return nil
}

func copyItem(item *model.HistoryItem) *model.HistoryItem {
	c := *item
	return &c
}
