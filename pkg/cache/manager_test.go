package cache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis returns a client backed by an in-memory miniredis server.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { client.Close() })

	return client, mini
}

func testKey() Key {
	return Key{
		Method: http.MethodGet,
		Host:   "api.test",
		Path:   "/posts/1",
		Query:  url.Values{"fields": []string{"title"}},
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil)
}

func TestManager_SetGet(t *testing.T) {
	client, mini := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	entry := &Entry{
		Data:       []byte(`{"id":1}`),
		ETag:       `"v1"`,
		Expires:    time.Now().Add(time.Minute),
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		CachedAt:   time.Now(),
	}

	if err := manager.Set(ctx, testKey(), entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	redisKey := "fanout:cache:GET:api.test/posts/1:fields=title"
	if !mini.Exists(redisKey) {
		t.Fatalf("expected key %q in redis, have %v", redisKey, mini.Keys())
	}
	// Revalidatable entries outlive their freshness by the stale window.
	if ttl := mini.TTL(redisKey); ttl <= DefaultStaleWindow {
		t.Errorf("TTL = %v, want > %v", ttl, DefaultStaleWindow)
	}

	got, err := manager.Get(ctx, testKey())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Data) != `{"id":1}` || got.ETag != `"v1"` {
		t.Errorf("Get() = %+v", got)
	}
	if got.IsExpired() {
		t.Error("entry should be fresh")
	}
}

func TestManager_GetMiss(t *testing.T) {
	client, _ := setupTestRedis(t)
	manager := NewManager(client)

	_, err := manager.Get(context.Background(), testKey())
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_GetInvalidEntry(t *testing.T) {
	client, mini := setupTestRedis(t)
	manager := NewManager(client, WithPrefix("test"))

	if err := mini.Set("test:"+testKey().String(), "not json"); err != nil {
		t.Fatal(err)
	}

	_, err := manager.Get(context.Background(), testKey())
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Get() error = %v, want ErrInvalidEntry", err)
	}
}

func TestManager_SetSkipsExpiredWithoutValidator(t *testing.T) {
	client, mini := setupTestRedis(t)
	manager := NewManager(client)

	entry := &Entry{Data: []byte("x"), Expires: time.Now().Add(-time.Second)}
	if err := manager.Set(context.Background(), testKey(), entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if len(mini.Keys()) != 0 {
		t.Errorf("expected nothing stored, have %v", mini.Keys())
	}
}

func TestManager_SetNil(t *testing.T) {
	client, _ := setupTestRedis(t)
	if err := NewManager(client).Set(context.Background(), testKey(), nil); err == nil {
		t.Error("Set(nil) should fail")
	}
}

func TestManager_StaleEntryKeptForRevalidation(t *testing.T) {
	client, mini := setupTestRedis(t)
	manager := NewManager(client, WithStaleWindow(time.Minute))
	ctx := context.Background()

	entry := &Entry{Data: []byte("x"), ETag: `"v1"`, Expires: time.Now().Add(-time.Second)}
	if err := manager.Set(ctx, testKey(), entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := manager.Get(ctx, testKey())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.IsExpired() {
		t.Error("entry should be stale")
	}

	mini.FastForward(2 * time.Minute)
	if _, err := manager.Get(ctx, testKey()); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after stale window error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_Refresh(t *testing.T) {
	client, _ := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	entry := &Entry{Data: []byte("x"), ETag: `"v1"`, Expires: time.Now().Add(-time.Second)}
	if err := manager.Set(ctx, testKey(), entry); err != nil {
		t.Fatal(err)
	}

	refreshed, err := manager.Refresh(ctx, testKey(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.IsExpired() {
		t.Error("refreshed entry should be fresh")
	}

	got, err := manager.Get(ctx, testKey())
	if err != nil {
		t.Fatal(err)
	}
	if got.TTL() < 59*time.Minute {
		t.Errorf("TTL after refresh = %v", got.TTL())
	}
}

func TestManager_Delete(t *testing.T) {
	client, _ := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	entry := &Entry{Data: []byte("x"), Expires: time.Now().Add(time.Minute)}
	if err := manager.Set(ctx, testKey(), entry); err != nil {
		t.Fatal(err)
	}
	if err := manager.Delete(ctx, testKey()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := manager.Get(ctx, testKey()); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete error = %v", err)
	}
}
