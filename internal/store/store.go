// Package store implements the authoritative in-memory event log: an
// append-only, idempotent, Lamport-ordered store with aggregate and time
// query paths, capped by event count with deterministic eviction.
package store

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adred-codev/poshub/internal/event"
	"github.com/adred-codev/poshub/internal/monitoring"
)

// DefaultMaxEvents caps retention when no explicit cap is configured.
const DefaultMaxEvents = 10000

// DefaultBulkLimit bounds a single GetBulk page.
const DefaultBulkLimit = 100

// Store is the in-memory event log. All methods are safe for concurrent
// use. Events handed to Append are owned by the store afterwards and must
// not be mutated; query paths return freshly allocated slices sharing the
// stored (immutable) events.
type Store struct {
	mu sync.RWMutex

	maxEvents int

	// byID is the primary index: eventId → event. Idempotency lives here.
	byID map[string]*event.Event

	// byAggregate maps "tenant:store:aggregateId" to the aggregate's
	// events kept sorted by version ascending.
	byAggregate map[string][]*event.Event

	// ordered holds every retained event sorted by the canonical
	// (lamport, deviceId) comparator. It serves replay, range queries and
	// eviction (oldest at index 0).
	ordered []*event.Event

	lastLamport int64
	perTenant   map[string]int64
	perType     map[string]int64

	logger zerolog.Logger
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	TotalEvents int              `json:"totalEvents"`
	LastLamport int64            `json:"lastLamport"`
	PerTenant   map[string]int64 `json:"perTenantCount"`
	PerType     map[string]int64 `json:"perTypeCount"`
}

// New creates a store retaining at most maxEvents events. maxEvents <= 0
// selects DefaultMaxEvents.
func New(maxEvents int, logger zerolog.Logger) *Store {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Store{
		maxEvents:   maxEvents,
		byID:        make(map[string]*event.Event),
		byAggregate: make(map[string][]*event.Event),
		perTenant:   make(map[string]int64),
		perType:     make(map[string]int64),
		logger:      logger,
	}
}

// Append validates and inserts an event. Re-appending a known eventId is a
// no-op returning (false, nil); this idempotency contract is what makes
// at-least-once delivery safe. Validation failures return an error wrapping
// event.ErrInvalid and leave the store unchanged.
func (s *Store) Append(e *event.Event) (bool, error) {
	if err := e.Validate(); err != nil {
		monitoring.EventsRejected.Inc()
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[e.EventID]; exists {
		monitoring.EventsDuplicate.Inc()
		return false, nil
	}

	s.byID[e.EventID] = e
	s.insertOrdered(e)
	s.insertAggregate(e)

	if e.Clock.Lamport > s.lastLamport {
		s.lastLamport = e.Clock.Lamport
	}
	s.perTenant[e.TenantID]++
	s.perType[e.Type]++

	monitoring.EventsAppended.Inc()

	// Enforce the retention cap: evict smallest (lamport, deviceId) first.
	for len(s.byID) > s.maxEvents {
		s.evictOldest()
	}
	monitoring.EventsStored.Set(float64(len(s.byID)))

	return true, nil
}

// insertOrdered splices e into the canonical order. Appends are usually at
// the tail (clocks move forward), so the binary search hits the end cheaply.
func (s *Store) insertOrdered(e *event.Event) {
	i := sort.Search(len(s.ordered), func(i int) bool {
		return event.Less(e, s.ordered[i])
	})
	s.ordered = append(s.ordered, nil)
	copy(s.ordered[i+1:], s.ordered[i:])
	s.ordered[i] = e
}

// insertAggregate splices e into its aggregate's version-ordered list.
func (s *Store) insertAggregate(e *event.Event) {
	key := e.AggregateKey()
	list := s.byAggregate[key]
	i := sort.Search(len(list), func(i int) bool {
		return e.Version < list[i].Version
	})
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = e
	s.byAggregate[key] = list
}

// evictOldest removes ordered[0] from every index. Caller holds the write
// lock.
func (s *Store) evictOldest() {
	victim := s.ordered[0]
	s.ordered = s.ordered[1:]
	delete(s.byID, victim.EventID)

	key := victim.AggregateKey()
	list := s.byAggregate[key]
	for i, e := range list {
		if e.EventID == victim.EventID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.byAggregate, key)
	} else {
		s.byAggregate[key] = list
	}

	s.perTenant[victim.TenantID]--
	if s.perTenant[victim.TenantID] <= 0 {
		delete(s.perTenant, victim.TenantID)
	}
	s.perType[victim.Type]--
	if s.perType[victim.Type] <= 0 {
		delete(s.perType, victim.Type)
	}

	monitoring.EventsEvicted.Inc()
	s.logger.Debug().
		Str("event_id", victim.EventID).
		Int64("lamport", victim.Clock.Lamport).
		Msg("Evicted oldest event (retention cap)")
}

// Get returns the event with the given id, if retained.
func (s *Store) Get(eventID string) (*event.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[eventID]
	return e, ok
}

// GetBulk returns roughly limit events with lamport > fromLamport in
// canonical order. limit <= 0 selects DefaultBulkLimit. This is the catch-up
// path: callers page by passing the last returned Lamport value back in, so
// a page never ends inside a run of equal Lamport values. A cursor advanced
// to a split run's value would skip the rest of it on the next call.
func (s *Store) GetBulk(fromLamport int64, limit int) []*event.Event {
	if limit <= 0 {
		limit = DefaultBulkLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := sort.Search(len(s.ordered), func(i int) bool {
		return s.ordered[i].Clock.Lamport > fromLamport
	})
	n := len(s.ordered) - i
	if n > limit {
		n = limit
		for i+n < len(s.ordered) && s.ordered[i+n].Clock.Lamport == s.ordered[i+n-1].Clock.Lamport {
			n++
		}
	}
	if n <= 0 {
		return nil
	}
	out := make([]*event.Event, n)
	copy(out, s.ordered[i:i+n])
	return out
}

// GetAggregate returns the aggregate's events sorted by version ascending.
func (s *Store) GetAggregate(tenantID, storeID, aggregateID string) []*event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byAggregate[tenantID+":"+storeID+":"+aggregateID]
	if len(list) == 0 {
		return nil
	}
	out := make([]*event.Event, len(list))
	copy(out, list)
	return out
}

// GetEvents returns every retained event matching the filter, in canonical
// order. When tenant, store and aggregate are all set the aggregate index
// is used instead of a full scan.
func (s *Store) GetEvents(f event.Filter) []*event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*event.Event
	if f.TenantID != "" && f.StoreID != "" && f.AggregateID != "" {
		for _, e := range s.byAggregate[f.TenantID+":"+f.StoreID+":"+f.AggregateID] {
			if f.Matches(e) {
				out = append(out, e)
			}
		}
		// The aggregate list is version-ordered; results must come back
		// in canonical order like every other query path.
		sort.Slice(out, func(i, j int) bool { return event.Less(out[i], out[j]) })
		return out
	}

	for _, e := range s.ordered {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// LastLamport returns the greatest Lamport value ever appended.
func (s *Store) LastLamport() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastLamport
}

// Len returns the number of retained events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Stats returns a snapshot of store counters. The maps are copies.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perTenant := make(map[string]int64, len(s.perTenant))
	for k, v := range s.perTenant {
		perTenant[k] = v
	}
	perType := make(map[string]int64, len(s.perType))
	for k, v := range s.perType {
		perType[k] = v
	}
	return Stats{
		TotalEvents: len(s.byID),
		LastLamport: s.lastLamport,
		PerTenant:   perTenant,
		PerType:     perType,
	}
}

// Clear drops every event and counter. Test hook.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*event.Event)
	s.byAggregate = make(map[string][]*event.Event)
	s.ordered = nil
	s.lastLamport = 0
	s.perTenant = make(map[string]int64)
	s.perType = make(map[string]int64)
	monitoring.EventsStored.Set(0)
}
