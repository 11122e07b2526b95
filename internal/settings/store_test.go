package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func storeContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Load(ctx, "visitor-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() on empty store error = %v, want ErrNotFound", err)
	}

	if err := store.Save(ctx, "visitor-1", Settings{Language: "en-US"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Load(ctx, "visitor-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Language != "en" {
		t.Fatalf("Load().Language = %q, want en", got.Language)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatalf("Load().UpdatedAt is zero")
	}

	if err := store.Save(ctx, "visitor-1", Settings{Language: "ja"}); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("Save(ja) error = %v, want ErrUnsupportedLanguage", err)
	}
	if err := store.Save(ctx, "  ", Settings{Language: "ko"}); !errors.Is(err, ErrInvalidVisitor) {
		t.Fatalf("Save(blank visitor) error = %v, want ErrInvalidVisitor", err)
	}
	got, err = store.Load(ctx, "visitor-1")
	if err != nil || got.Language != "en" {
		t.Fatalf("rejected save changed stored settings: %+v, %v", got, err)
	}
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestBoltStore(t *testing.T) {
	store, err := OpenBolt(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("OpenBolt() error = %v", err)
	}
	defer store.Close()
	storeContract(t, store)
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")
	store, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt() error = %v", err)
	}
	if err := store.Save(context.Background(), "v", Settings{Language: "ko"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Load(context.Background(), "v")
	if err != nil || got.Language != "ko" {
		t.Fatalf("Load() after reopen = %+v, %v", got, err)
	}
}

func TestOpenBoltRequiresPath(t *testing.T) {
	if _, err := OpenBolt(" "); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMemoryStore().Save(ctx, "v", Settings{Language: "ko"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Save() error = %v, want context.Canceled", err)
	}
}

// TestRedisStore runs against a live server when DOCENT_TEST_REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("DOCENT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DOCENT_TEST_REDIS_ADDR not set")
	}
	store, err := OpenRedis(context.Background(), RedisOptions{
		Addr:      addr,
		KeyPrefix: "docent:test:" + filepath.Base(t.TempDir()) + ":",
	})
	if err != nil {
		t.Fatalf("OpenRedis() error = %v", err)
	}
	defer store.Close()
	storeContract(t, store)
}
