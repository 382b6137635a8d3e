package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/refiner/pkg/model"
	"github.com/tidwall/buntdb"
)

const (
	// HistoryKey is the fixed key the whole history log is stored under
	HistoryKey = "prompt_refiner_history"

	// InMemory opens a store that is not backed by a file
	InMemory = ":memory:"
)

// KV implements Repository with an embedded buntdb database on the local device
type KV struct {
	db   *buntdb.DB
	path string
}

// NewKV opens (or creates) the database file at path
func NewKV(path string) (*KV, error) {
	if path == "" {
		return nil, goerr.New("history path is required")
	}

	if path != InMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, goerr.Wrap(err, "failed to create history directory", goerr.V("path", path))
		}
	}

	db, err := buntdb.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open history database", goerr.V("path", path))
	}

	// Sync every write so a crash never loses an acknowledged mutation
	var cfg buntdb.Config
	if err := db.ReadConfig(&cfg); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to read database config")
	}
	cfg.SyncPolicy = buntdb.Always
	if err := db.SetConfig(cfg); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to set database config")
	}

	return &KV{db: db, path: path}, nil
}

func (r *KV) LoadHistory(ctx context.Context) ([]*model.HistoryItem, error) {
	var raw string
	err := r.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(HistoryKey)
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return []*model.HistoryItem{}, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read history", goerr.V("path", r.path))
	}

	var items []*model.HistoryItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, goerr.Wrap(ErrCorrupted, "failed to decode history",
			goerr.V("path", r.path),
			goerr.V("reason", err.Error()),
		)
	}
	if items == nil {
		items = []*model.HistoryItem{}
	}

	return items, nil
}

func (r *KV) SaveHistory(ctx context.Context, items []*model.HistoryItem) error {
	if items == nil {
		items = []*model.HistoryItem{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		return goerr.Wrap(err, "failed to encode history")
	}

	if err := r.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(HistoryKey, string(data), nil)
		return err
	}); err != nil {
		return goerr.Wrap(err, "failed to write history", goerr.V("path", r.path), goerr.V("items", len(items)))
	}

	return nil
}

func (r *KV) Close() error {
	if err := r.db.Close(); err != nil {
		return goerr.Wrap(err, "failed to close history database", goerr.V("path", r.path))
	}
	return nil
}
