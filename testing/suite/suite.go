// Package suite starts the external services tests depend on.
package suite

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
)

const (
	expireSeconds   = 120
	maxWaitDuration = 120 * time.Second
)

const (
	redisPort  = "6379/tcp"
	redisImage = "redis"
	redisTag   = "alpine"
)

type Suite struct {
	*testing.T
	Logger *slog.Logger

	Storage *redis.Client
}

// New runs a disposable redis container for t and returns a client pointed
// at an empty database. Tests are skipped with -short since they need docker.
func New(t *testing.T) (context.Context, *Suite) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis-backed test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), maxWaitDuration)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	client := startRedis(ctx, t)

	return ctx, &Suite{
		T:       t,
		Logger:  logger,
		Storage: client,
	}
}

func startRedis(ctx context.Context, t *testing.T) *redis.Client {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("could not connect to docker: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: redisImage,
		Tag:        redisTag,
	}, func(config *docker.HostConfig) {
		// stopped containers remove themselves
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("could not start resource: %v", err)
	}

	// hard kill even if the test binary dies before cleanup
	_ = resource.Expire(expireSeconds)

	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Errorf("could not purge resource: %v", err)
		}
	})

	// redis inside the container may not accept connections yet
	pool.MaxWait = maxWaitDuration

	var client *redis.Client
	if err = pool.Retry(func() error {
		client = redis.NewClient(&redis.Options{
			Addr: resource.GetHostPort(redisPort),
		})
		return client.Ping(ctx).Err()
	}); err != nil {
		t.Fatalf("could not connect to redis: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Close()
	})

	if err = client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("could not flush database: %v", err)
	}

	return client
}
