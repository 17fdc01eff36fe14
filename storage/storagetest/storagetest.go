// Package storagetest holds the behavior every storage backend must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/fuelrats/rescue-api-go/storage"
)

// Run exercises s. Backends call it from their own tests.
func Run(t *testing.T, s storage.Storage) {
	t.Helper()

	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, s) })
	t.Run("GetNonExistent", func(t *testing.T) { testGetNonExistent(t, s) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, s) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, s) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, s) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, s) })
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if err := s.Set(ctx, "set-get", []byte("test data")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	item, err := s.Get(ctx, "set-get")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item == nil {
		t.Fatal("expected item, got nil")
	}
	if string(item.Data) != "test data" {
		t.Fatalf("Data = %q, want %q", item.Data, "test data")
	}
	if item.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if item.ExpiresAt != nil {
		t.Error("ExpiresAt set without TTL")
	}
}

func testGetNonExistent(t *testing.T, s storage.Storage) {
	item, err := s.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item, got %+v", item)
	}
}

func testTTL(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if err := s.Set(ctx, "ttl", []byte("short lived"), storage.WithTTL(50*time.Millisecond)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	item, err := s.Get(ctx, "ttl")
	if err != nil || item == nil {
		t.Fatalf("Get before expiry = %v, %v", item, err)
	}
	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt not set")
	}

	time.Sleep(100 * time.Millisecond)
	item, err = s.Get(ctx, "ttl")
	if err != nil {
		t.Fatalf("Get after expiry: %v", err)
	}
	if item != nil {
		t.Fatal("expired item returned")
	}
}

func testNamespaces(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if err := s.Set(ctx, "board", []byte("global")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "board", []byte("a"), storage.WithHost("a.example")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "board", []byte("b"), storage.WithHost("b.example")); err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		opts []storage.Option
		want string
	}{
		{nil, "global"},
		{[]storage.Option{storage.WithHost("a.example")}, "a"},
		{[]storage.Option{storage.WithHost("b.example")}, "b"},
	} {
		item, err := s.Get(ctx, "board", tt.opts...)
		if err != nil || item == nil {
			t.Fatalf("Get = %v, %v", item, err)
		}
		if string(item.Data) != tt.want {
			t.Errorf("Data = %q, want %q", item.Data, tt.want)
		}
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ns := storage.WithHost("delete-key.example")
	for _, k := range []string{"one", "two"} {
		if err := s.Set(ctx, k, []byte(k), ns); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Delete(ctx, ns, storage.WithKey("one")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if item, _ := s.Get(ctx, "one", ns); item != nil {
		t.Error("deleted key still present")
	}
	if item, _ := s.Get(ctx, "two", ns); item == nil {
		t.Error("sibling key removed")
	}
}

func testDeleteNamespace(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	gone := storage.WithHost("gone.example")
	kept := storage.WithHost("kept.example")
	for _, k := range []string{"one", "two"} {
		if err := s.Set(ctx, k, []byte(k), gone); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Set(ctx, "one", []byte("kept"), kept); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, gone); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, k := range []string{"one", "two"} {
		if item, _ := s.Get(ctx, k, gone); item != nil {
			t.Errorf("%s survived namespace delete", k)
		}
	}
	if item, _ := s.Get(ctx, "one", kept); item == nil {
		t.Error("other namespace removed")
	}
}
