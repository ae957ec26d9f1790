package repository

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/rocketscienceinc/tictactoe-server/internal/entity"
)

const cleanupInterval = time.Minute

// newCache returns a cache whose entries expire after ttl; zero means never.
func newCache(ttl time.Duration) *gocache.Cache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}

	return gocache.New(ttl, cleanupInterval)
}

type memoryName struct {
	mu     sync.Mutex
	owners *gocache.Cache
}

// NewMemoryNameRepository keeps reservations in process memory. They live
// exactly as long as the process, so they never expire.
func NewMemoryNameRepository() NameRepository {
	return &memoryName{owners: newCache(0)}
}

func (that *memoryName) Reserve(_ context.Context, name, ownerID string) (bool, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.owners.Add(name, ownerID, gocache.DefaultExpiration); err != nil {
		return false, nil //nolint: nilerr // Add only fails when the name is held
	}

	return true, nil
}

func (that *memoryName) Release(_ context.Context, name, ownerID string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if owner, ok := that.owners.Get(name); ok && owner == ownerID {
		that.owners.Delete(name)
	}

	return nil
}

func (that *memoryName) Refresh(_ context.Context, _, _ string) error {
	return nil
}

type memoryMatch struct {
	mu      sync.Mutex
	matches *gocache.Cache
}

// NewMemoryMatchRepository keeps snapshots in process memory.
func NewMemoryMatchRepository(ttl time.Duration) MatchRepository {
	return &memoryMatch{matches: newCache(ttl)}
}

func (that *memoryMatch) CreateOrUpdate(_ context.Context, match *entity.MatchSnapshot) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	stored := *match
	stored.Players = append([]entity.PlayerSnapshot(nil), match.Players...)
	that.matches.Set(match.ID, stored, gocache.DefaultExpiration)

	return nil
}

func (that *memoryMatch) GetByID(_ context.Context, id string) (*entity.MatchSnapshot, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	value, ok := that.matches.Get(id)
	if !ok {
		return nil, ErrMatchNotFound
	}

	match, _ := value.(entity.MatchSnapshot)
	match.Players = append([]entity.PlayerSnapshot(nil), match.Players...)

	return &match, nil
}

func (that *memoryMatch) DeleteByID(_ context.Context, id string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.matches.Get(id); !ok {
		return ErrMatchNotFound
	}

	that.matches.Delete(id)

	return nil
}
