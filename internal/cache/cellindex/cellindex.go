// Package cellindex maps H3 cells to the cached results whose filter line
// crosses them, so a change inside a cell can drop exactly those results.
package cellindex

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shakir/spatial-line-query/internal/cache/keys"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
)

// Store is the set primitive both cache backends provide
type Store interface {
	SAddWithTTL(ctx context.Context, sets []string, member string, ttl time.Duration) error
	SUnion(ctx context.Context, sets []string) ([]string, error)
	Del(ctx context.Context, keys ...string) error
}

type Index struct {
	store Store
	res   int
}

func New(store Store, res int) *Index {
	return &Index{store: store, res: res}
}

func (ix *Index) Resolution() int { return ix.res }

// Add records resultKey under every cell of layer
func (ix *Index) Add(ctx context.Context, layer string, cells model.Cells, resultKey string, ttl time.Duration) error {
	if len(cells) == 0 {
		return nil
	}
	if err := ix.store.SAddWithTTL(ctx, ix.setKeys(layer, cells), resultKey, ttl); err != nil {
		return fmt.Errorf("cellindex add %d cells: %w", len(cells), err)
	}
	return nil
}

// Lookup returns the unique result keys recorded under any of cells
func (ix *Index) Lookup(ctx context.Context, layer string, cells model.Cells) ([]string, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	members, err := ix.store.SUnion(ctx, ix.setKeys(layer, cells))
	if err != nil {
		return nil, fmt.Errorf("cellindex lookup %d cells: %w", len(cells), err)
	}
	return members, nil
}

// Drop removes the index sets of cells
func (ix *Index) Drop(ctx context.Context, layer string, cells model.Cells) error {
	if len(cells) == 0 {
		return nil
	}
	if err := ix.store.Del(ctx, ix.setKeys(layer, cells)...); err != nil {
		return fmt.Errorf("cellindex drop %d cells: %w", len(cells), err)
	}
	return nil
}

func (ix *Index) setKeys(layer string, cells model.Cells) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = keys.CellIndexKey(layer, ix.res, c)
	}
	return out
}
