// Package clock implements the hub's Lamport logical clock.
//
// From Lamport (1978), two implementation rules govern the clock:
//
//	IR1 (internal event): Before any internal event, increment the clock.
//	IR2 (message receipt): On receiving a message with timestamp t,
//	     set the clock to max(own, t) + 1.
//
// Every connection handler may advance the clock concurrently, so unlike a
// per-invocation CLI clock this one is guarded by a mutex. The invariant the
// hub relies on: after ingesting any event, Current() is at least that
// event's Lamport value.
package clock

import "sync"

// Clock is a goroutine-safe Lamport logical clock.
type Clock struct {
	mu sync.Mutex
	ts int64
}

// Next implements IR2 as a single atomic step: set the clock to
// max(own, peer) + 1 and return the new value. Pass 0 for a purely
// internal event (IR1).
func (c *Clock) Next(peer int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if peer > c.ts {
		c.ts = peer
	}
	c.ts++
	return c.ts
}

// Tick increments the clock before an internal event and returns the
// new timestamp.
func (c *Clock) Tick() int64 {
	return c.Next(0)
}

// Observe raises the clock to peer without incrementing. Used when the hub
// ingests an already-stamped event: the hub's clock must never lag behind
// any Lamport value it has seen.
func (c *Clock) Observe(peer int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if peer > c.ts {
		c.ts = peer
	}
}

// Current returns the clock value without advancing it.
func (c *Clock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ts
}
