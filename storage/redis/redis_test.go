package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fuelrats/rescue-api-go/storage"
	"github.com/fuelrats/rescue-api-go/storage/storagetest"
	"github.com/redis/go-redis/v9"
)

// testClient connects to RESCUE_TEST_REDIS_ADDR, or a local server, and
// skips when neither answers.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("RESCUE_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 2})
	if err := client.Ping(t.Context()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}
	return client
}

func TestStorage(t *testing.T) {
	client := testClient(t)
	s, err := New(Config{Client: client, KeyPrefix: "rescue:test:shared:"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_ = s.Delete(ctx)
		for _, host := range []string{"a.example", "b.example", "delete-key.example", "kept.example"} {
			_ = s.Delete(ctx, storage.WithHost(host))
		}
		_ = s.Close()
	})

	storagetest.Run(t, s)
}

func TestKeyPrefixIsolates(t *testing.T) {
	client := testClient(t)
	t.Cleanup(func() { _ = client.Close() })
	ctx := t.Context()

	a, _ := New(Config{Client: client, KeyPrefix: "rescue:test:a:"})
	b, _ := New(Config{Client: client, KeyPrefix: "rescue:test:b:"})
	host := storage.WithHost("api.test")
	t.Cleanup(func() {
		_ = a.Delete(context.Background(), host)
		_ = b.Delete(context.Background(), host)
	})

	if err := a.Set(ctx, "board", []byte("from a"), host, storage.WithTTL(time.Minute)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if item, err := b.Get(ctx, "board", host); err != nil || item != nil {
		t.Fatalf("other prefix Get = %v, %v", item, err)
	}
	ttl, err := client.TTL(ctx, "rescue:test:a:"+storage.Key(storage.HostNamespace{Host: "api.test"}, "board")).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("server TTL = %v, %v", ttl, err)
	}
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("New without a client succeeded")
	}
}
