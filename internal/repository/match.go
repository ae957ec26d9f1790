package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-server/internal/entity"
)

var ErrMatchNotFound = errors.New("match not found")

// MatchRepository mirrors the live state of unfinished matches.
type MatchRepository interface {
	CreateOrUpdate(ctx context.Context, match *entity.MatchSnapshot) error
	GetByID(ctx context.Context, id string) (*entity.MatchSnapshot, error)
	DeleteByID(ctx context.Context, id string) error
}

type dbMatch struct {
	client *redis.Client
	ttl    time.Duration
}

func NewMatchRepository(client *redis.Client, ttl time.Duration) MatchRepository {
	return &dbMatch{
		client: client,
		ttl:    ttl,
	}
}

func (that *dbMatch) CreateOrUpdate(ctx context.Context, match *entity.MatchSnapshot) error {
	matchJSON, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("could not marshal match: %w", err)
	}

	if err = that.client.Set(ctx, matchKey(match.ID), matchJSON, that.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set match: %w", err)
	}

	return nil
}

func (that *dbMatch) GetByID(ctx context.Context, id string) (*entity.MatchSnapshot, error) {
	response, err := that.client.Get(ctx, matchKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMatchNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get match by id: %w", err)
	}

	var existing entity.MatchSnapshot
	if err = json.Unmarshal([]byte(response), &existing); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match: %w", err)
	}

	return &existing, nil
}

func (that *dbMatch) DeleteByID(ctx context.Context, id string) error {
	deleted, err := that.client.Del(ctx, matchKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete match by id: %w", err)
	}

	if deleted == 0 {
		return ErrMatchNotFound
	}

	return nil
}

func matchKey(id string) string {
	return "match:" + id
}
