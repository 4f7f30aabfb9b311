//go:build integration

package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_SharedState(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	writer := NewTracker(redisClient, logger)
	reader := NewTracker(redisClient, logger)
	ctx := context.Background()

	headers := http.Header{}
	headers.Set(HeaderRemaining, "3")
	headers.Set(HeaderReset, "120")

	if err := writer.UpdateFromHeaders(ctx, "api.test", headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	// A second tracker on the same Redis sees the critical budget.
	if err := reader.Wait(ctx, "api.test"); !errors.Is(err, ErrBlocked) {
		t.Errorf("Wait() error = %v, want ErrBlocked", err)
	}

	state, err := reader.GetState(ctx, "api.test")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if d := state.TimeUntilReset(); d < 115*time.Second || d > 120*time.Second {
		t.Errorf("TimeUntilReset() = %v, want about 120s", d)
	}
}

func TestTracker_Integration_ConcurrentUpdates(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	tracker := NewTracker(redisClient, zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			headers := http.Header{}
			headers.Set(HeaderRemaining, "60")
			headers.Set(HeaderReset, "30")
			if err := tracker.UpdateFromHeaders(ctx, "api.test", headers); err != nil {
				t.Errorf("update %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	state, err := tracker.GetState(ctx, "api.test")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 60 || !state.IsHealthy {
		t.Errorf("state = %+v", state)
	}
}
