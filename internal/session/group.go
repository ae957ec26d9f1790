package session

import (
	"context"
	"sync"
)

// Group runs sessions and can close all of them at once.
type Group struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewGroup() *Group {
	return &Group{sessions: make(map[*Session]struct{})}
}

// Go runs s in its own goroutine until it ends. After Shutdown the session
// is closed instead of run.
func (that *Group) Go(ctx context.Context, s *Session) {
	that.mu.Lock()
	if that.closed {
		that.mu.Unlock()
		_ = s.Close()

		return
	}

	that.sessions[s] = struct{}{}
	that.wg.Add(1)
	that.mu.Unlock()

	go func() {
		defer that.wg.Done()

		s.Run(ctx)

		that.mu.Lock()
		delete(that.sessions, s)
		that.mu.Unlock()
	}()
}

// Shutdown closes every running session and waits for all of them to end.
func (that *Group) Shutdown() {
	that.mu.Lock()
	that.closed = true
	for s := range that.sessions {
		_ = s.Close()
	}
	that.mu.Unlock()

	that.wg.Wait()
}
