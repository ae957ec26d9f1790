package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NameRepository tracks which display names are held by active players.
type NameRepository interface {
	// Reserve claims name for ownerID. It returns false when someone else
	// already holds it.
	Reserve(ctx context.Context, name, ownerID string) (bool, error)
	// Release frees name only if ownerID still holds it.
	Release(ctx context.Context, name, ownerID string) error
	// Refresh renews the lease on name if ownerID still holds it.
	Refresh(ctx context.Context, name, ownerID string) error
}

// releaseScript deletes the key only when it still carries the caller's id.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript renews the key's lease only when it still carries the caller's id.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type dbName struct {
	client *redis.Client
	ttl    time.Duration
}

// NewNameRepository keeps reservations in redis so several server instances
// share one namespace. ttl bounds how long a reservation outlives a crashed
// server and must be renewed with Refresh while the player is active; zero
// means no expiry.
func NewNameRepository(client *redis.Client, ttl time.Duration) NameRepository {
	return &dbName{
		client: client,
		ttl:    ttl,
	}
}

func (that *dbName) Reserve(ctx context.Context, name, ownerID string) (bool, error) {
	ok, err := that.client.SetNX(ctx, nameKey(name), ownerID, that.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve name: %w", err)
	}

	return ok, nil
}

func (that *dbName) Release(ctx context.Context, name, ownerID string) error {
	if err := releaseScript.Run(ctx, that.client, []string{nameKey(name)}, ownerID).Err(); err != nil {
		return fmt.Errorf("failed to release name: %w", err)
	}

	return nil
}

func (that *dbName) Refresh(ctx context.Context, name, ownerID string) error {
	if that.ttl <= 0 {
		return nil
	}

	if err := refreshScript.Run(ctx, that.client, []string{nameKey(name)}, ownerID, that.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to refresh name: %w", err)
	}

	return nil
}

func nameKey(name string) string {
	return "player:name:" + name
}
