package cache

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var drivers = []string{"bolt", "leveldb", "fs"}

func forEachDriver(t *testing.T, fn func(t *testing.T, storage Storage)) {
	t.Helper()
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			storage := newTestStorage(t, driver)
			fn(t, storage)
		})
	}
}

func TestStoragePutAndMatch(t *testing.T) {
	forEachDriver(t, func(t *testing.T, storage Storage) {
		ctx := context.Background()
		gen, err := storage.Open(ctx, "poultry-farm-v3")
		if err != nil {
			t.Fatalf("open error: %v", err)
		}

		storedAt := time.Now().Add(-time.Hour).UTC()
		rec := Record{
			URL:        "http://farm.local/dashboard.html",
			Status:     http.StatusOK,
			StatusText: "200 OK",
			Header:     http.Header{"Content-Type": {"text/html"}},
			Body:       []byte("<h1>dashboard</h1>"),
			Type:       "basic",
			StoredAt:   storedAt,
		}
		if err := gen.Put(ctx, rec); err != nil {
			t.Fatalf("put error: %v", err)
		}

		got, err := gen.Match(ctx, "http://farm.local/dashboard.html#alerts")
		if err != nil {
			t.Fatalf("match error: %v", err)
		}
		if string(got.Body) != string(rec.Body) {
			t.Fatalf("cached payload mismatch: %s", string(got.Body))
		}
		if got.Status != http.StatusOK || got.Type != "basic" {
			t.Fatalf("unexpected record: %+v", got)
		}
		if got.Header.Get("Content-Type") != "text/html" {
			t.Fatalf("header mismatch: %v", got.Header)
		}
		if !got.StoredAt.Equal(storedAt) {
			t.Fatalf("stored_at mismatch: expected %v got %v", storedAt, got.StoredAt)
		}
	})
}

func TestStorageMatchMissing(t *testing.T) {
	forEachDriver(t, func(t *testing.T, storage Storage) {
		gen, err := storage.Open(context.Background(), "v1")
		if err != nil {
			t.Fatalf("open error: %v", err)
		}
		_, err = gen.Match(context.Background(), "http://farm.local/missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStoragePutAllOverwritesKeys(t *testing.T) {
	forEachDriver(t, func(t *testing.T, storage Storage) {
		ctx := context.Background()
		gen, err := storage.Open(ctx, "v3")
		if err != nil {
			t.Fatalf("open error: %v", err)
		}
		batch := []Record{
			{URL: "http://farm.local/a.html", Status: 200, Body: []byte("a1")},
			{URL: "http://farm.local/b.css", Status: 200, Body: []byte("b1")},
		}
		for i := 0; i < 2; i++ {
			if err := gen.PutAll(ctx, batch); err != nil {
				t.Fatalf("put all error: %v", err)
			}
		}
		keys, err := gen.Keys(ctx)
		if err != nil {
			t.Fatalf("keys error: %v", err)
		}
		if len(keys) != 2 || keys[0] != "http://farm.local/a.html" || keys[1] != "http://farm.local/b.css" {
			t.Fatalf("unexpected keys: %v", keys)
		}
	})
}

func TestStorageDeleteGeneration(t *testing.T) {
	forEachDriver(t, func(t *testing.T, storage Storage) {
		ctx := context.Background()
		for _, name := range []string{"v2", "v3"} {
			gen, err := storage.Open(ctx, name)
			if err != nil {
				t.Fatalf("open error: %v", err)
			}
			if err := gen.Put(ctx, Record{URL: "http://farm.local/", Status: 200, Body: []byte(name)}); err != nil {
				t.Fatalf("put error: %v", err)
			}
		}

		deleted, err := storage.Delete(ctx, "v2")
		if err != nil || !deleted {
			t.Fatalf("expected v2 deleted, got %v %v", deleted, err)
		}
		deleted, err = storage.Delete(ctx, "v2")
		if err != nil || deleted {
			t.Fatalf("second delete should report false, got %v %v", deleted, err)
		}

		names, err := storage.Keys(ctx)
		if err != nil {
			t.Fatalf("keys error: %v", err)
		}
		if len(names) != 1 || names[0] != "v3" {
			t.Fatalf("expected only v3, got %v", names)
		}

		gen, err := storage.Open(ctx, "v3")
		if err != nil {
			t.Fatalf("open error: %v", err)
		}
		rec, err := gen.Match(ctx, "http://farm.local/")
		if err != nil || string(rec.Body) != "v3" {
			t.Fatalf("v3 entry should survive, got %v %v", rec, err)
		}
	})
}

func TestStorageWriteToDeletedGeneration(t *testing.T) {
	forEachDriver(t, func(t *testing.T, storage Storage) {
		ctx := context.Background()
		gen, err := storage.Open(ctx, "stale")
		if err != nil {
			t.Fatalf("open error: %v", err)
		}
		if _, err := storage.Delete(ctx, "stale"); err != nil {
			t.Fatalf("delete error: %v", err)
		}
		err = gen.Put(ctx, Record{URL: "http://farm.local/x", Status: 200})
		if !errors.Is(err, ErrGenerationMissing) {
			t.Fatalf("expected ErrGenerationMissing, got %v", err)
		}
		if has, _ := storage.Has(ctx, "stale"); has {
			t.Fatalf("write must not resurrect a deleted generation")
		}
	})
}

func TestStorageDeleteEntry(t *testing.T) {
	forEachDriver(t, func(t *testing.T, storage Storage) {
		ctx := context.Background()
		gen, err := storage.Open(ctx, "v3")
		if err != nil {
			t.Fatalf("open error: %v", err)
		}
		if err := gen.Put(ctx, Record{URL: "http://farm.local/remove", Status: 200, Body: []byte("data")}); err != nil {
			t.Fatalf("put error: %v", err)
		}
		if ok, err := gen.Delete(ctx, "http://farm.local/remove"); err != nil || !ok {
			t.Fatalf("remove error: %v %v", ok, err)
		}
		if _, err := gen.Match(ctx, "http://farm.local/remove"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found after remove, got %v", err)
		}
	})
}

func TestOpenRejectsPathLikeNames(t *testing.T) {
	forEachDriver(t, func(t *testing.T, storage Storage) {
		if _, err := storage.Open(context.Background(), "../escape"); err == nil {
			t.Fatalf("expected invalid name error")
		}
	})
}

func TestFileStorageIgnoresTrashDirectories(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, ".trash-123"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	names, err := storage.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("hidden directories should not be generations: %v", names)
	}
}

func TestRequestKey(t *testing.T) {
	key, err := RequestKey(http.MethodGet, "http://farm.local/app.js#x")
	if err != nil || key != "http://farm.local/app.js" {
		t.Fatalf("unexpected key %q err %v", key, err)
	}
	if _, err := RequestKey(http.MethodPost, "http://farm.local/api"); !errors.Is(err, ErrMethodNotCacheable) {
		t.Fatalf("expected ErrMethodNotCacheable, got %v", err)
	}
	if got := Key("http://farm.local"); got != "http://farm.local/" {
		t.Fatalf("empty path should normalise to /, got %s", got)
	}
	if got := Key("HTTP://Farm.Local:80/a?b=1"); got != "http://farm.local/a?b=1" {
		t.Fatalf("scheme, host and default port should be normalised, got %s", got)
	}
}

func TestNewStorageRejectsUnknownDriver(t *testing.T) {
	if _, err := NewStorage("redis", t.TempDir()); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

// newTestStorage returns a Storage backed by a temporary directory.
func newTestStorage(t *testing.T, driver string) Storage {
	t.Helper()
	storage, err := NewStorage(driver, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create %s storage: %v", driver, err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}
