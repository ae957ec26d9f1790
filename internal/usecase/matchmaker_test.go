package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-server/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-server/internal/entity"
	"github.com/rocketscienceinc/tictactoe-server/internal/protocol"
	"github.com/rocketscienceinc/tictactoe-server/internal/repository"
	"github.com/rocketscienceinc/tictactoe-server/testing/suite"
)

var errRedisDown = errors.New("redis down")

type recordingPeer struct {
	mu       sync.Mutex
	messages []protocol.Message
	finished bool
}

func (that *recordingPeer) Send(msg protocol.Message) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.messages = append(that.messages, msg)
}

func (that *recordingPeer) Finish() {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.finished = true
}

func (that *recordingPeer) types() []protocol.Type {
	that.mu.Lock()
	defer that.mu.Unlock()

	types := make([]protocol.Type, 0, len(that.messages))
	for _, m := range that.messages {
		types = append(types, m.Type)
	}

	return types
}

func (that *recordingPeer) last() protocol.Message {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.messages[len(that.messages)-1]
}

type mockNameRepo struct {
	mock.Mock
}

func (that *mockNameRepo) Reserve(ctx context.Context, name, ownerID string) (bool, error) {
	args := that.Called(ctx, name, ownerID)
	return args.Bool(0), args.Error(1)
}

func (that *mockNameRepo) Release(ctx context.Context, name, ownerID string) error {
	args := that.Called(ctx, name, ownerID)
	return args.Error(0)
}

func (that *mockNameRepo) Refresh(ctx context.Context, name, ownerID string) error {
	args := that.Called(ctx, name, ownerID)
	return args.Error(0)
}

type fixture struct {
	matchmaker *Matchmaker
	names      repository.NameRepository
	matches    repository.MatchRepository
}

func newFixture() *fixture {
	names := repository.NewMemoryNameRepository()
	matches := repository.NewMemoryMatchRepository(0)

	return &fixture{
		matchmaker: NewMatchmaker(slog.New(slog.NewTextHandler(io.Discard, nil)), names, matches),
		names:      names,
		matches:    matches,
	}
}

func TestMatchmaker_Join(t *testing.T) {
	ctx := context.Background()

	t.Run("First player waits, second player starts the match", func(t *testing.T) {
		// Given: an empty matchmaker
		f := newFixture()
		alice, bob := &recordingPeer{}, &recordingPeer{}
		alicePlayer := &entity.Player{ID: "a", Name: "Alice"}
		bobPlayer := &entity.Player{ID: "b", Name: "Bob"}

		// When: Alice joins
		first, err := f.matchmaker.Join(ctx, alicePlayer, alice)
		require.NoError(t, err)

		// Then: she is told to wait and the match is mirrored
		assert.Equal(t, []protocol.Type{protocol.Wait}, alice.types())
		stored, err := f.matches.GetByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.PhaseAwaitingOpponent, stored.Phase)

		// When: Bob joins
		second, err := f.matchmaker.Join(ctx, bobPlayer, bob)
		require.NoError(t, err)

		// Then: Bob lands in Alice's match and both get BEGN
		assert.Same(t, first, second)
		assert.Equal(t, protocol.Message{Type: protocol.Begin, Fields: []string{"X", "Bob"}}, alice.last())
		assert.Equal(t, []protocol.Type{protocol.Begin}, bob.types())
		assert.Equal(t, protocol.Message{Type: protocol.Begin, Fields: []string{"O", "Alice"}}, bob.last())

		stored, err = f.matches.GetByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.PhaseInProgress, stored.Phase)
		assert.Len(t, stored.Players, 2)
	})

	t.Run("Third player opens a new match", func(t *testing.T) {
		f := newFixture()

		first, err := f.matchmaker.Join(ctx, &entity.Player{ID: "a", Name: "Alice"}, &recordingPeer{})
		require.NoError(t, err)
		_, err = f.matchmaker.Join(ctx, &entity.Player{ID: "b", Name: "Bob"}, &recordingPeer{})
		require.NoError(t, err)

		carol := &recordingPeer{}
		third, err := f.matchmaker.Join(ctx, &entity.Player{ID: "c", Name: "Carol"}, carol)

		require.NoError(t, err)
		assert.NotSame(t, first, third)
		assert.Equal(t, []protocol.Type{protocol.Wait}, carol.types())
	})

	t.Run("Name in use", func(t *testing.T) {
		// Given: Alice is waiting
		f := newFixture()
		_, err := f.matchmaker.Join(ctx, &entity.Player{ID: "a", Name: "Alice"}, &recordingPeer{})
		require.NoError(t, err)

		// When: another connection asks for the same name
		imposter := &recordingPeer{}
		match, err := f.matchmaker.Join(ctx, &entity.Player{ID: "x", Name: "Alice"}, imposter)

		// Then: it is refused and nothing was sent or joined
		require.ErrorIs(t, err, apperror.ErrNameInUse)
		assert.Nil(t, match)
		assert.Empty(t, imposter.types())

		// And: the real Alice is still waiting for an opponent
		bob := &recordingPeer{}
		_, err = f.matchmaker.Join(ctx, &entity.Player{ID: "b", Name: "Bob"}, bob)
		require.NoError(t, err)
		assert.Equal(t, []protocol.Type{protocol.Begin}, bob.types())
	})

	t.Run("Invalid names", func(t *testing.T) {
		f := newFixture()

		for _, name := range []string{"", "   ", strings.Repeat("n", MaxNameLength+1)} {
			_, err := f.matchmaker.Join(ctx, &entity.Player{ID: "a", Name: name}, &recordingPeer{})
			require.ErrorIs(t, err, apperror.ErrInvalidName)
		}
	})

	t.Run("Abandoned waiting match is skipped", func(t *testing.T) {
		// Given: Alice's waiting match lost its player but is still registered
		f := newFixture()
		abandoned, err := f.matchmaker.Join(ctx, &entity.Player{ID: "a", Name: "Alice"}, &recordingPeer{})
		require.NoError(t, err)
		abandoned.Disconnect(entity.RoleX)

		// When: Bob joins
		bob := &recordingPeer{}
		match, err := f.matchmaker.Join(ctx, &entity.Player{ID: "b", Name: "Bob"}, bob)

		// Then: he takes over a fresh waiting slot
		require.NoError(t, err)
		assert.NotSame(t, abandoned, match)
		assert.Equal(t, []protocol.Type{protocol.Wait}, bob.types())
		assert.Equal(t, entity.PhaseAwaitingOpponent, match.Phase())
	})

	t.Run("Storage failure while reserving", func(t *testing.T) {
		// Given: a name repository that is down
		names := &mockNameRepo{}
		names.On("Reserve", mock.Anything, "Alice", "a").Return(false, errRedisDown).Once()
		matchmaker := NewMatchmaker(slog.New(slog.NewTextHandler(io.Discard, nil)), names, repository.NewMemoryMatchRepository(0))

		// When: Alice joins
		peer := &recordingPeer{}
		match, err := matchmaker.Join(ctx, &entity.Player{ID: "a", Name: "Alice"}, peer)

		// Then: the error surfaces and nothing was created
		require.ErrorIs(t, err, errRedisDown)
		assert.Nil(t, match)
		assert.Empty(t, peer.types())
		names.AssertExpectations(t)
	})
}

func TestMatchmaker_Leave(t *testing.T) {
	ctx := context.Background()

	t.Run("Waiting player leaves", func(t *testing.T) {
		// Given: Alice is waiting
		f := newFixture()
		alicePlayer := &entity.Player{ID: "a", Name: "Alice"}
		alice := &recordingPeer{}
		match, err := f.matchmaker.Join(ctx, alicePlayer, alice)
		require.NoError(t, err)

		// When: she disconnects
		f.matchmaker.Leave(ctx, match, alicePlayer)

		// Then: the match is discarded silently and her name is free
		assert.Equal(t, []protocol.Type{protocol.Wait}, alice.types())
		assert.Equal(t, entity.PhaseConcluded, match.Phase())
		_, err = f.matches.GetByID(ctx, match.ID)
		require.ErrorIs(t, err, repository.ErrMatchNotFound)

		// And: the next player waits in a new match
		again := &recordingPeer{}
		next, err := f.matchmaker.Join(ctx, &entity.Player{ID: "a2", Name: "Alice"}, again)
		require.NoError(t, err)
		assert.NotSame(t, match, next)
		assert.Equal(t, []protocol.Type{protocol.Wait}, again.types())
	})

	t.Run("Player leaves mid-game", func(t *testing.T) {
		// Given: Alice and Bob are playing
		f := newFixture()
		alicePlayer := &entity.Player{ID: "a", Name: "Alice"}
		bobPlayer := &entity.Player{ID: "b", Name: "Bob"}
		bob := &recordingPeer{}
		match, err := f.matchmaker.Join(ctx, alicePlayer, &recordingPeer{})
		require.NoError(t, err)
		_, err = f.matchmaker.Join(ctx, bobPlayer, bob)
		require.NoError(t, err)

		// When: Alice disconnects
		f.matchmaker.Leave(ctx, match, alicePlayer)

		// Then: Bob wins, the match is reclaimed and both names are free
		assert.Equal(t, protocol.Message{Type: protocol.Over, Fields: []string{"W", "Alice disconnected"}}, bob.last())
		assert.True(t, bob.finished)
		_, err = f.matches.GetByID(ctx, match.ID)
		require.ErrorIs(t, err, repository.ErrMatchNotFound)

		for _, name := range []string{"Alice", "Bob"} {
			ok, err := f.names.Reserve(ctx, name, "someone-else")
			require.NoError(t, err)
			assert.True(t, ok, name)
		}

		// And: Bob's own cleanup afterwards is harmless
		f.matchmaker.Leave(ctx, match, bobPlayer)
	})
}

func TestMatchmaker_Sync(t *testing.T) {
	ctx := context.Background()

	t.Run("Concluded match releases names and snapshot", func(t *testing.T) {
		// Given: a running match
		f := newFixture()
		match, err := f.matchmaker.Join(ctx, &entity.Player{ID: "a", Name: "Alice"}, &recordingPeer{})
		require.NoError(t, err)
		_, err = f.matchmaker.Join(ctx, &entity.Player{ID: "b", Name: "Bob"}, &recordingPeer{})
		require.NoError(t, err)

		// When: Bob resigns and the match is synced
		require.True(t, match.Handle(entity.RoleO, protocol.Message{Type: protocol.Resign}))
		f.matchmaker.Sync(ctx, match)

		// Then: the snapshot is gone and the names can be used again
		_, err = f.matches.GetByID(ctx, match.ID)
		require.ErrorIs(t, err, repository.ErrMatchNotFound)

		_, err = f.matchmaker.Join(ctx, &entity.Player{ID: "a2", Name: "Alice"}, &recordingPeer{})
		require.NoError(t, err)
		_, err = f.matchmaker.Join(ctx, &entity.Player{ID: "b2", Name: "Bob"}, &recordingPeer{})
		require.NoError(t, err)
	})

	t.Run("Moves are mirrored", func(t *testing.T) {
		f := newFixture()
		match, err := f.matchmaker.Join(ctx, &entity.Player{ID: "a", Name: "Alice"}, &recordingPeer{})
		require.NoError(t, err)
		_, err = f.matchmaker.Join(ctx, &entity.Player{ID: "b", Name: "Bob"}, &recordingPeer{})
		require.NoError(t, err)

		match.Handle(entity.RoleX, protocol.Message{Type: protocol.Move, Fields: []string{"X", "2,2"}})
		f.matchmaker.Sync(ctx, match)

		stored, err := f.matches.GetByID(ctx, match.ID)
		require.NoError(t, err)
		assert.Equal(t, "....X....", stored.Board)
		assert.Equal(t, "O", stored.Turn)
		assert.Equal(t, 1, stored.Moves)
	})
}

func TestMatchmaker_ConcurrentJoins(t *testing.T) {
	// Given: many players joining at once
	f := newFixture()
	const players = 40

	peers := make([]*recordingPeer, players)
	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		peers[i] = &recordingPeer{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			player := &entity.Player{ID: string(rune('A' + i)), Name: "player-" + string(rune('A'+i))}
			_, err := f.matchmaker.Join(context.Background(), player, peers[i])
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Then: everyone is paired and everybody got exactly one BEGN
	for i, peer := range peers {
		begins := 0
		for _, typ := range peer.types() {
			if typ == protocol.Begin {
				begins++
			}
		}
		assert.Equal(t, 1, begins, "player %d", i)
	}
}

func TestMatchmaker_RenewNames(t *testing.T) {
	ctx := context.Background()

	// Given: Alice holds her name while waiting
	names := &mockNameRepo{}
	names.On("Reserve", mock.Anything, "Alice", "a").Return(true, nil).Once()
	matchmaker := NewMatchmaker(slog.New(slog.NewTextHandler(io.Discard, nil)), names, repository.NewMemoryMatchRepository(0))

	alice := &entity.Player{ID: "a", Name: "Alice"}
	match, err := matchmaker.Join(ctx, alice, &recordingPeer{})
	require.NoError(t, err)

	// When: names are renewed
	names.On("Refresh", mock.Anything, "Alice", "a").Return(nil).Once()
	matchmaker.RenewNames(ctx)

	// Then: her lease was extended
	names.AssertExpectations(t)

	// When: she leaves and names are renewed again
	names.On("Release", mock.Anything, "Alice", "a").Return(nil)
	matchmaker.Leave(ctx, match, alice)
	matchmaker.RenewNames(ctx)

	// Then: her name is no longer renewed
	names.AssertNumberOfCalls(t, "Refresh", 1)
}

func TestMatchmaker_NameLease_Redis(t *testing.T) {
	ctx, st := suite.New(t)

	// Given: reservations with a lease much shorter than the wait below
	names := repository.NewNameRepository(st.Storage, 300*time.Millisecond)
	matchmaker := NewMatchmaker(st.Logger, names, repository.NewMatchRepository(st.Storage, time.Minute))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go matchmaker.Run(runCtx, 100*time.Millisecond)

	_, err := matchmaker.Join(ctx, &entity.Player{ID: "a", Name: "Alice"}, &recordingPeer{})
	require.NoError(t, err)

	// When: Alice keeps waiting past several leases
	time.Sleep(time.Second)

	// Then: her name is still taken
	imposter := &recordingPeer{}
	match, err := matchmaker.Join(ctx, &entity.Player{ID: "x", Name: "Alice"}, imposter)
	require.ErrorIs(t, err, apperror.ErrNameInUse)
	assert.Nil(t, match)
	assert.Empty(t, imposter.types())
}
