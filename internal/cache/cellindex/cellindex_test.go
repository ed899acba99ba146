package cellindex

import (
	"context"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/spatial-line-query/internal/cache/keys"
	"github.com/mohammed-shakir/spatial-line-query/internal/cache/memstore"
	"github.com/mohammed-shakir/spatial-line-query/internal/cache/redisstore"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
)

func newRedis(t *testing.T) (*redisstore.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	return cli, mr
}

func backends(t *testing.T) map[string]Store {
	cli, _ := newRedis(t)
	return map[string]Store{
		"redis":  cli,
		"memory": memstore.New(64, time.Minute),
	}
}

func TestIndex_AddLookupDrop(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ix := New(store, 9)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			layer := "demo:roads"
			if err := ix.Add(ctx, layer, model.Cells{"c1", "c2"}, "r1", time.Minute); err != nil {
				t.Fatalf("Add: %v", err)
			}
			if err := ix.Add(ctx, layer, model.Cells{"c2", "c3"}, "r2", time.Minute); err != nil {
				t.Fatalf("Add: %v", err)
			}
			if err := ix.Add(ctx, "demo:rivers", model.Cells{"c1"}, "r3", time.Minute); err != nil {
				t.Fatalf("Add: %v", err)
			}

			got, err := ix.Lookup(ctx, layer, model.Cells{"c1"})
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if len(got) != 1 || got[0] != "r1" {
				t.Fatalf("layers must not share cells, got %v", got)
			}

			got, err = ix.Lookup(ctx, layer, model.Cells{"c1", "c2", "c3"})
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			sort.Strings(got)
			if len(got) != 2 || got[0] != "r1" || got[1] != "r2" {
				t.Fatalf("lookup must return unique keys, got %v", got)
			}

			if err := ix.Drop(ctx, layer, model.Cells{"c2"}); err != nil {
				t.Fatalf("Drop: %v", err)
			}
			got, _ = ix.Lookup(ctx, layer, model.Cells{"c2"})
			if len(got) != 0 {
				t.Fatalf("expected dropped cell to be empty, got %v", got)
			}
		})
	}
}

func TestIndex_EmptyCellsIsNoop(t *testing.T) {
	ix := New(memstore.New(8, time.Minute), 9)
	ctx := context.Background()
	if err := ix.Add(ctx, "l", nil, "r", time.Minute); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got, err := ix.Lookup(ctx, "l", nil); err != nil || got != nil {
		t.Fatalf("Lookup got=%v err=%v", got, err)
	}
	if err := ix.Drop(ctx, "l", nil); err != nil {
		t.Fatalf("Drop: %v", err)
	}
}

func TestIndex_RedisKeysAndTTL(t *testing.T) {
	cli, mr := newRedis(t)
	ix := New(cli, 8)
	ctx := context.Background()

	ttl := 2 * time.Minute
	if err := ix.Add(ctx, "demo:roads", model.Cells{"882a100d2bfffff"}, "r1", ttl); err != nil {
		t.Fatalf("Add: %v", err)
	}
	k := keys.CellIndexKey("demo:roads", 8, "882a100d2bfffff")
	if !mr.Exists(k) {
		t.Fatalf("expected index key %q", k)
	}
	if tt := mr.TTL(k); tt <= 0 || tt > ttl {
		t.Fatalf("unexpected TTL for key %q: %v", k, tt)
	}
}
