package hub

import (
	"sync"
	"sync/atomic"
)

// roomIndex maps room keys ("tenantId:storeId") to their member
// connections. Broadcast is the hot path, so membership is kept as an
// immutable snapshot per room behind an atomic.Value: joins and leaves
// copy-on-write under the lock, fan-out loads the snapshot lock-free and
// tolerates concurrent removal by construction.
type roomIndex struct {
	mu    sync.RWMutex
	rooms map[string]*atomic.Value // room → []*Client snapshot
}

func newRoomIndex() *roomIndex {
	return &roomIndex{rooms: make(map[string]*atomic.Value)}
}

// add joins a client to a room.
func (idx *roomIndex) add(room string, client *Client) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	val := idx.rooms[room]
	if val == nil {
		val = &atomic.Value{}
		idx.rooms[room] = val
	}

	var current []*Client
	if v := val.Load(); v != nil {
		current = v.([]*Client)
	}
	for _, existing := range current {
		if existing == client {
			return
		}
	}

	next := make([]*Client, len(current)+1)
	copy(next, current)
	next[len(current)] = client
	val.Store(next)
}

// remove leaves a client from a room; empty rooms are dropped.
func (idx *roomIndex) remove(room string, client *Client) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	val, ok := idx.rooms[room]
	if !ok {
		return
	}
	v := val.Load()
	if v == nil {
		return
	}
	current := v.([]*Client)
	for i, existing := range current {
		if existing == client {
			next := make([]*Client, len(current)-1)
			copy(next, current[:i])
			copy(next[i:], current[i+1:])
			if len(next) == 0 {
				delete(idx.rooms, room)
			} else {
				val.Store(next)
			}
			return
		}
	}
}

// snapshot returns the room's current member list. The slice is an
// immutable snapshot: safe to iterate, must not be modified.
func (idx *roomIndex) snapshot(room string) []*Client {
	idx.mu.RLock()
	val, ok := idx.rooms[room]
	idx.mu.RUnlock()
	if !ok {
		return nil
	}
	v := val.Load()
	if v == nil {
		return nil
	}
	return v.([]*Client)
}

// counts returns the member count per room.
func (idx *roomIndex) counts() map[string]int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make(map[string]int, len(idx.rooms))
	for room, val := range idx.rooms {
		if v := val.Load(); v != nil {
			out[room] = len(v.([]*Client))
		}
	}
	return out
}
