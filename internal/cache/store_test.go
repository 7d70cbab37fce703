package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Partition: "fintrack-static-v1", Path: "/dashboard"}

	modTime := time.Now().Add(-time.Hour).UTC()
	payload := []byte("<html>dashboard</html>")
	header := http.Header{"Content-Type": []string{"text/html"}}
	opts := PutOptions{ModTime: modTime, Meta: Metadata{Status: http.StatusOK, Header: header, Type: "basic"}}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader(payload), opts); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if !result.Entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, result.Entry.ModTime)
	}
	if result.Entry.Meta.Status != http.StatusOK || result.Entry.Meta.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("metadata mismatch: %+v", result.Entry.Meta)
	}
	if result.Entry.Meta.StoredAt.IsZero() {
		t.Fatalf("stored_at should be filled")
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), Locator{Partition: "fintrack-static-v1", Path: "/missing"})
	if err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Partition: "fintrack-runtime-v1", Path: "/cache/remove"}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader([]byte("data")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(context.Background(), locator); err == nil || err != ErrNotFound {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestStoreNestedPathsDoNotCollide(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	parent := Locator{Partition: "fintrack-static-v1", Path: "/dashboard"}
	child := Locator{Partition: "fintrack-static-v1", Path: "/dashboard/settings"}

	if _, err := store.Put(ctx, parent, bytes.NewReader([]byte("parent")), PutOptions{}); err != nil {
		t.Fatalf("put parent: %v", err)
	}
	if _, err := store.Put(ctx, child, bytes.NewReader([]byte("child")), PutOptions{}); err != nil {
		t.Fatalf("put child: %v", err)
	}
	for loc, want := range map[Locator]string{parent: "parent", child: "child"} {
		result, err := store.Get(ctx, loc)
		if err != nil {
			t.Fatalf("get %s: %v", loc.Path, err)
		}
		body, _ := io.ReadAll(result.Reader)
		result.Reader.Close()
		if string(body) != want {
			t.Fatalf("expected %s, got %s", want, string(body))
		}
	}
}

func TestStoreRootDoesNotCollideWithNamedPaths(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entries := map[string]string{
		"/":      "index",
		"/root":  "root page",
		"/.root": "dot root",
		"/.body": "dot body",
	}
	for p, body := range entries {
		loc := Locator{Partition: "fintrack-static-v1", Path: p}
		if _, err := store.Put(ctx, loc, bytes.NewReader([]byte(body)), PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", p, err)
		}
	}

	for p, want := range entries {
		result, err := store.Get(ctx, Locator{Partition: "fintrack-static-v1", Path: p})
		if err != nil {
			t.Fatalf("get %s: %v", p, err)
		}
		body, _ := io.ReadAll(result.Reader)
		result.Reader.Close()
		if string(body) != want {
			t.Fatalf("%s: expected %q, got %q", p, want, string(body))
		}
	}

	result, err := store.Get(ctx, Locator{Partition: "fintrack-static-v1", Path: ""})
	if err != nil {
		t.Fatalf("empty path should address the root entry: %v", err)
	}
	body, _ := io.ReadAll(result.Reader)
	result.Reader.Close()
	if string(body) != "index" {
		t.Fatalf("expected root entry, got %q", string(body))
	}
}

func TestStoreIgnoresEntriesWithoutMetadata(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Partition: "fintrack-api-v1", Path: "/api/transactions"}

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	base, err := fs.entryPath(locator)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(base+bodySuffix, []byte("orphan"), 0o644); err != nil {
		t.Fatalf("write orphan body: %v", err)
	}

	if _, err := store.Get(context.Background(), locator); err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for orphan body, got %v", err)
	}
}

func TestStorePartitionsAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"fintrack-static-v1", "fintrack-api-v1", "fintrack-static-v0"} {
		if _, err := store.Put(ctx, Locator{Partition: name, Path: "/"}, bytes.NewReader([]byte("x")), PutOptions{}); err != nil {
			t.Fatalf("put into %s: %v", name, err)
		}
	}

	names, err := store.Partitions(ctx)
	if err != nil {
		t.Fatalf("partitions error: %v", err)
	}
	if len(names) != 3 || names[0] != "fintrack-api-v1" {
		t.Fatalf("unexpected partitions: %v", names)
	}

	if err := store.DeletePartition(ctx, "fintrack-static-v0"); err != nil {
		t.Fatalf("delete partition: %v", err)
	}
	if err := store.DeletePartition(ctx, "never-existed"); err != nil {
		t.Fatalf("deleting a missing partition should succeed: %v", err)
	}
	names, _ = store.Partitions(ctx)
	if len(names) != 2 {
		t.Fatalf("expected 2 partitions after delete, got %v", names)
	}
}

func TestStoreRejectsInvalidPartition(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []string{"", "..", "a/b"} {
		_, err := store.Put(context.Background(), Locator{Partition: name, Path: "/x"}, bytes.NewReader(nil), PutOptions{})
		if !errors.Is(err, ErrInvalidPartition) {
			t.Fatalf("expected ErrInvalidPartition for %q, got %v", name, err)
		}
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
