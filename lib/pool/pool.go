package pool

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/aibroker/lib/core"
)

// Pool is a bounded pool of reusable items. Items are either idle (available
// for Pop) or busy (handed out). New items are constructed lazily until the
// pool holds capacity items.
type Pool[T comparable] struct {
	mu       sync.Mutex
	idle     []T
	busy     map[T]struct{}
	draining int // items between busy and idle, still count against capacity
	capacity int
	newItem  func() T
	reclaim  func(T)
}

// New creates a pool that constructs items with newItem and holds at most
// capacity items. reclaim (optional) runs on every item pushed back.
func New[T comparable](capacity int, newItem func() T, reclaim func(T)) *Pool[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool[T]{
		busy:     make(map[T]struct{}),
		capacity: capacity,
		newItem:  newItem,
		reclaim:  reclaim,
	}
}

// Pop hands out an idle item, constructing a new one if none is idle.
// Returns core.ErrPoolExhausted if all capacity items are busy.
func (p *Pool[T]) Pop() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var item T
	if n := len(p.idle); n > 0 {
		item = p.idle[n-1]
		p.idle = p.idle[:n-1]
	} else if len(p.busy)+p.draining < p.capacity {
		item = p.newItem()
	} else {
		return item, fmt.Errorf("%d of %d items busy: %w", len(p.busy), p.capacity, core.ErrPoolExhausted)
	}

	p.busy[item] = struct{}{}
	return item, nil
}

// Push returns a busy item to the pool.
// Returns core.ErrNotPooled if the item was not handed out by this pool.
func (p *Pool[T]) Push(item T) error {
	p.mu.Lock()
	if _, ok := p.busy[item]; !ok {
		p.mu.Unlock()
		return core.ErrNotPooled
	}
	delete(p.busy, item)
	p.draining++
	p.mu.Unlock()

	// the item is owned by the caller until it is idle again
	if p.reclaim != nil {
		p.reclaim(item)
	}

	p.mu.Lock()
	p.draining--
	p.idle = append(p.idle, item)
	p.mu.Unlock()
	return nil
}

// Busy returns the number of items handed out
func (p *Pool[T]) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.busy)
}

// Idle returns the number of items available for reuse
func (p *Pool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Cap returns the maximum number of items
func (p *Pool[T]) Cap() int {
	return p.capacity
}
