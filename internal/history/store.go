// Package history keeps the bounded, per-channel window of conversation turns.
package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/drok-bot/drok/internal/content"
)

// DefaultCapacity is the number of turns kept per channel when Options leaves
// Capacity unset.
const DefaultCapacity = 10

// Options configures a Store.
type Options struct {
	Capacity int
	Backing  Backing
	// OnEvict is called after turns are dropped from a channel, either by
	// capacity eviction or by Clear.
	OnEvict func(key string, dropped int)
}

// Store owns every conversation. Reads return snapshots; callers never hold
// on to a conversation between calls.
type Store struct {
	capacity int
	backing  Backing
	onEvict  func(string, int)
}

// Conversation is one channel's turn window. Its fields are owned by the Store.
type Conversation struct {
	mu    sync.Mutex
	turns []content.Turn
	run   *runLock
}

// Stats summarizes the store for status surfaces.
type Stats struct {
	Channels int
	Turns    int
}

// New creates a store.
func New(opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Backing == nil {
		opts.Backing = NewSyncMapBacking()
	}
	return &Store{capacity: opts.Capacity, backing: opts.Backing, onEvict: opts.OnEvict}
}

// Capacity returns the per-channel turn limit.
func (s *Store) Capacity() int { return s.capacity }

func (s *Store) conv(key string) *Conversation {
	if c, ok := s.backing.Load(key); ok {
		return c
	}
	c, _ := s.backing.LoadOrStore(key, &Conversation{run: newRunLock()})
	return c
}

// Append adds turn to the end of key's history, evicting the oldest turn
// first when the window is full.
func (s *Store) Append(key string, turn content.Turn) error {
	if turn.IsZero() {
		return fmt.Errorf("append to %s: %w", key, content.ErrEmptyTurn)
	}
	c := s.conv(key)
	c.mu.Lock()
	dropped := 0
	for len(c.turns) >= s.capacity {
		c.turns[0] = content.Turn{}
		c.turns = c.turns[1:]
		dropped++
	}
	c.turns = append(c.turns, turn)
	c.mu.Unlock()
	if dropped > 0 && s.onEvict != nil {
		s.onEvict(key, dropped)
	}
	return nil
}

// Get returns a copy of key's history, oldest first. Unknown keys yield an
// empty slice.
func (s *Store) Get(key string) []content.Turn {
	c, ok := s.backing.Load(key)
	if !ok {
		return []content.Turn{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]content.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns stored for key.
func (s *Store) Len(key string) int {
	c, ok := s.backing.Load(key)
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Clear drops all history for key.
func (s *Store) Clear(key string) {
	c, ok := s.backing.Load(key)
	if !ok {
		return
	}
	c.mu.Lock()
	dropped := len(c.turns)
	c.turns = nil
	c.mu.Unlock()
	if dropped > 0 && s.onEvict != nil {
		s.onEvict(key, dropped)
	}
}

// Lock serializes read-then-append sequences for key. The returned function
// releases the lock. Other keys are never blocked.
func (s *Store) Lock(ctx context.Context, key string) (func(), error) {
	c := s.conv(key)
	if err := c.run.acquire(ctx); err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	var once sync.Once
	return func() { once.Do(c.run.release) }, nil
}

// TryLock is Lock without waiting. It reports false if key is busy.
func (s *Store) TryLock(key string) (func(), bool) {
	c := s.conv(key)
	if !c.run.tryAcquire() {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(c.run.release) }, true
}

// Stats counts channels and stored turns.
func (s *Store) Stats() Stats {
	var st Stats
	s.backing.Range(func(_ string, c *Conversation) bool {
		c.mu.Lock()
		st.Channels++
		st.Turns += len(c.turns)
		c.mu.Unlock()
		return true
	})
	return st
}
