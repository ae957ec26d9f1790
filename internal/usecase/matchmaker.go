package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rocketscienceinc/tictactoe-server/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-server/internal/entity"
	"github.com/rocketscienceinc/tictactoe-server/internal/protocol"
	"github.com/rocketscienceinc/tictactoe-server/internal/repository"
	"github.com/rocketscienceinc/tictactoe-server/internal/tictactoe"
)

const MaxNameLength = 64

type nameRepo interface {
	Reserve(ctx context.Context, name, ownerID string) (bool, error)
	Release(ctx context.Context, name, ownerID string) error
	Refresh(ctx context.Context, name, ownerID string) error
}

type matchRepo interface {
	CreateOrUpdate(ctx context.Context, match *entity.MatchSnapshot) error
	DeleteByID(ctx context.Context, id string) error
}

// Matchmaker pairs joining players into matches.
//
// Its lock guards the waiting-match registry and the name reservations held
// by this process. It
// is never held while a match lock is held: a match is claimed under mu,
// mu is released, and only then is the match itself touched.
type Matchmaker struct {
	logger *slog.Logger

	names   nameRepo
	matches matchRepo

	mu       sync.Mutex
	waiting  *tictactoe.Match
	reserved map[string]string // player id -> name
}

func NewMatchmaker(logger *slog.Logger, names nameRepo, matches matchRepo) *Matchmaker {
	return &Matchmaker{
		logger: logger.With("component", "matchmaker"),

		names:   names,
		matches: matches,

		reserved: make(map[string]string),
	}
}

// Run renews every name reservation held by this process each interval
// until ctx is cancelled. interval must be shorter than the reservation
// lease; zero or less disables renewal.
func (that *Matchmaker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			that.RenewNames(ctx)
		}
	}
}

// RenewNames extends the lease of every name still held by a player of an
// unfinished match.
func (that *Matchmaker) RenewNames(ctx context.Context) {
	that.mu.Lock()
	held := make(map[string]string, len(that.reserved))
	for id, name := range that.reserved {
		held[id] = name
	}
	that.mu.Unlock()

	// Refresh is owner-checked, so a name released meanwhile stays released
	for id, name := range held {
		if err := that.names.Refresh(ctx, name, id); err != nil {
			that.logger.Error("failed to renew name", "player", name, "error", err)
		}
	}
}

// Join seats player in the waiting match, or opens a new waiting match and
// sends WAIT when there is none. It fails with ErrNameInUse or
// ErrInvalidName without creating or joining anything.
func (that *Matchmaker) Join(ctx context.Context, player *entity.Player, peer tictactoe.Peer) (*tictactoe.Match, error) {
	log := that.logger.With("method", "Join", "player", player.Name)

	if err := validateName(player.Name); err != nil {
		return nil, err
	}

	if err := that.reserveName(ctx, player); err != nil {
		return nil, err
	}

	for {
		match, created := that.claimOrCreate(player, peer)
		if created {
			log.Info("player waiting", "match_id", match.ID)
			that.Sync(ctx, match)

			return match, nil
		}

		if err := match.Seat(player, peer); err != nil {
			if tictactoe.IsAbandoned(err) {
				log.Info("waiting match abandoned, trying again", "match_id", match.ID)
				continue
			}

			that.releaseName(ctx, player)

			return nil, fmt.Errorf("failed to seat player: %w", err)
		}

		log.Info("player joined", "match_id", match.ID)
		that.Sync(ctx, match)

		return match, nil
	}
}

// Leave handles a player whose connection is gone. match is nil when the
// player never got into one.
func (that *Matchmaker) Leave(ctx context.Context, match *tictactoe.Match, player *entity.Player) {
	if match != nil {
		match.Disconnect(player.Role)

		that.mu.Lock()
		if that.waiting == match {
			that.waiting = nil
		}
		that.mu.Unlock()

		that.Sync(ctx, match)
	}

	that.releaseName(ctx, player)
}

// Sync mirrors the match to storage. Once the match is concluded its
// snapshot is deleted and its players' names are released.
func (that *Matchmaker) Sync(ctx context.Context, match *tictactoe.Match) {
	log := that.logger.With("method", "Sync", "match_id", match.ID)

	match.Observe(func(snapshot entity.MatchSnapshot) {
		if !snapshot.IsConcluded() {
			if err := that.matches.CreateOrUpdate(ctx, &snapshot); err != nil {
				log.Error("failed to store match", "error", err)
			}

			return
		}

		for _, p := range snapshot.Players {
			that.releaseName(ctx, &entity.Player{ID: p.ID, Name: p.Name})
		}

		if err := that.matches.DeleteByID(ctx, snapshot.ID); err != nil && !errors.Is(err, repository.ErrMatchNotFound) {
			log.Error("failed to delete match", "error", err)
		}
	})
}

// claimOrCreate takes the waiting match out of the registry, or registers a
// new one holding player as X. The second result is true for a new match.
func (that *Matchmaker) claimOrCreate(player *entity.Player, peer tictactoe.Peer) (*tictactoe.Match, bool) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.waiting != nil {
		match := that.waiting
		that.waiting = nil

		return match, false
	}

	match := tictactoe.NewMatch(that.logger, uuid.NewString(), player, peer)

	// WAIT goes out before the match is visible, so it always precedes BEGN
	peer.Send(protocol.Message{Type: protocol.Wait})
	that.waiting = match

	return match, true
}

func (that *Matchmaker) reserveName(ctx context.Context, player *entity.Player) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	ok, err := that.names.Reserve(ctx, player.Name, player.ID)
	if err != nil {
		return fmt.Errorf("failed to reserve name: %w", err)
	}

	if !ok {
		return apperror.ErrNameInUse
	}

	that.reserved[player.ID] = player.Name

	return nil
}

func (that *Matchmaker) releaseName(ctx context.Context, player *entity.Player) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.reserved[player.ID] == player.Name {
		delete(that.reserved, player.ID)
	}

	if err := that.names.Release(ctx, player.Name, player.ID); err != nil {
		that.logger.Error("failed to release name", "player", player.Name, "error", err)
	}
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" || len(name) > MaxNameLength || strings.ContainsRune(name, '|') {
		return apperror.ErrInvalidName
	}

	return nil
}
