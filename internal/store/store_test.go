package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/poshub/internal/event"
)

func newTestStore(maxEvents int) *Store {
	return New(maxEvents, zerolog.Nop())
}

func makeEvent(id string, lamport int64, deviceID string) *event.Event {
	return &event.Event{
		EventID:       id,
		TenantID:      "demo",
		StoreID:       "store_001",
		AggregateType: event.AggregateOrder,
		AggregateID:   "O1",
		Version:       1,
		Type:          "order.created",
		At:            time.Now(),
		Actor:         event.Actor{DeviceID: deviceID, UserID: "u1"},
		Clock:         event.Stamp{Lamport: lamport, DeviceID: deviceID},
	}
}

func TestAppendAndGet(t *testing.T) {
	s := newTestStore(0)
	e := makeEvent("e1", 1, "D1")

	inserted, err := s.Append(e)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !inserted {
		t.Fatal("Append: got inserted=false, want true")
	}
	got, ok := s.Get("e1")
	if !ok {
		t.Fatal("Get: event not found after append")
	}
	if got.EventID != "e1" {
		t.Fatalf("Get: got %q, want e1", got.EventID)
	}
	if s.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", s.Len())
	}
}

func TestAppendIdempotent(t *testing.T) {
	s := newTestStore(0)
	e := makeEvent("e1", 1, "D1")

	if inserted, _ := s.Append(e); !inserted {
		t.Fatal("first append: got inserted=false")
	}
	// Same eventId again, even with different content, is a no-op.
	dup := makeEvent("e1", 99, "D2")
	inserted, err := s.Append(dup)
	if err != nil {
		t.Fatalf("duplicate append: unexpected error %v", err)
	}
	if inserted {
		t.Fatal("duplicate append: got inserted=true, want false")
	}
	if s.Len() != 1 {
		t.Fatalf("Len after duplicate: got %d, want 1", s.Len())
	}
	got, _ := s.Get("e1")
	if got.Clock.Lamport != 1 {
		t.Fatalf("duplicate overwrote stored event: lamport %d, want 1", got.Clock.Lamport)
	}
}

func TestAppendRejectsInvalid(t *testing.T) {
	s := newTestStore(0)
	e := makeEvent("e1", 1, "D1")
	e.AggregateType = "starship"

	inserted, err := s.Append(e)
	if err == nil {
		t.Fatal("invalid append: expected error, got nil")
	}
	if inserted {
		t.Fatal("invalid append: got inserted=true")
	}
	if s.Len() != 0 {
		t.Fatalf("store changed by rejected append: Len %d", s.Len())
	}
}

func TestCanonicalOrderWithTiebreak(t *testing.T) {
	s := newTestStore(0)

	// Two devices mint the same Lamport value concurrently; device id
	// breaks the tie, insertion order must not matter.
	eb := makeEvent("eb", 7, "POS-B")
	ea := makeEvent("ea", 7, "POS-A")
	ec := makeEvent("ec", 3, "POS-C")
	for _, e := range []*event.Event{eb, ea, ec} {
		if _, err := s.Append(e); err != nil {
			t.Fatalf("Append %s: %v", e.EventID, err)
		}
	}

	got := s.GetBulk(0, 10)
	want := []string{"ec", "ea", "eb"}
	if len(got) != len(want) {
		t.Fatalf("GetBulk: got %d events, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].EventID != id {
			t.Fatalf("position %d: got %s, want %s", i, got[i].EventID, id)
		}
	}
}

func TestGetBulkPagination(t *testing.T) {
	s := newTestStore(0)
	for i := 1; i <= 10; i++ {
		e := makeEvent(fmt.Sprintf("e%d", i), int64(i), "D1")
		if _, err := s.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// fromLamport is exclusive.
	page := s.GetBulk(4, 3)
	if len(page) != 3 {
		t.Fatalf("page size: got %d, want 3", len(page))
	}
	if page[0].Clock.Lamport != 5 || page[2].Clock.Lamport != 7 {
		t.Fatalf("page bounds: got [%d..%d], want [5..7]",
			page[0].Clock.Lamport, page[2].Clock.Lamport)
	}

	// Second page continues from where the first ended.
	page = s.GetBulk(7, 100)
	if len(page) != 3 {
		t.Fatalf("second page size: got %d, want 3", len(page))
	}
	if page[0].Clock.Lamport != 8 {
		t.Fatalf("second page start: got %d, want 8", page[0].Clock.Lamport)
	}

	// Caught up.
	if page := s.GetBulk(10, 100); page != nil {
		t.Fatalf("caught-up page: got %d events, want none", len(page))
	}
}

func TestGetBulkNeverSplitsLamportTies(t *testing.T) {
	s := newTestStore(0)
	if _, err := s.Append(makeEvent("e0", 1, "D1")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	for _, dev := range []string{"A", "B", "C"} {
		if _, err := s.Append(makeEvent("e-"+dev, 5, dev)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// The limit lands inside the lamport-5 run; the page extends through it.
	page := s.GetBulk(0, 2)
	if len(page) != 4 {
		t.Fatalf("page size: got %d, want 4 (tie run kept whole)", len(page))
	}
	if page[1].Clock.Lamport != 5 || page[3].Clock.Lamport != 5 {
		t.Fatalf("page contents: lamports %d..%d", page[1].Clock.Lamport, page[3].Clock.Lamport)
	}

	// Paging from the run's value finds nothing left of it.
	if rest := s.GetBulk(5, 2); rest != nil {
		t.Fatalf("page after tie run: got %d events, want none", len(rest))
	}

	// Starting inside canonical order but before the run behaves the same.
	page = s.GetBulk(1, 2)
	if len(page) != 3 {
		t.Fatalf("page from lamport 1: got %d events, want 3", len(page))
	}
}

func TestGetAggregateVersionOrder(t *testing.T) {
	s := newTestStore(0)

	v2 := makeEvent("e2", 5, "D1")
	v2.Version = 2
	v1 := makeEvent("e1", 9, "D2") // higher lamport but earlier version
	v1.Version = 1
	other := makeEvent("e3", 1, "D1")
	other.AggregateID = "O2"

	for _, e := range []*event.Event{v2, v1, other} {
		if _, err := s.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got := s.GetAggregate("demo", "store_001", "O1")
	if len(got) != 2 {
		t.Fatalf("GetAggregate: got %d events, want 2", len(got))
	}
	if got[0].Version != 1 || got[1].Version != 2 {
		t.Fatalf("version order: got [%d, %d], want [1, 2]", got[0].Version, got[1].Version)
	}

	if got := s.GetAggregate("demo", "store_001", "missing"); got != nil {
		t.Fatal("unknown aggregate: expected nil")
	}
}

func TestGetEventsFilter(t *testing.T) {
	s := newTestStore(0)

	a := makeEvent("a", 1, "D1")
	b := makeEvent("b", 2, "D1")
	b.AggregateType = event.AggregateKDS
	b.AggregateID = "K1"
	b.Type = "kds.ticket.bumped"
	c := makeEvent("c", 3, "D2")
	c.StoreID = "store_002"
	for _, e := range []*event.Event{a, b, c} {
		if _, err := s.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got := s.GetEvents(event.Filter{TenantID: "demo", StoreID: "store_001"})
	if len(got) != 2 {
		t.Fatalf("store filter: got %d, want 2", len(got))
	}
	got = s.GetEvents(event.Filter{AggregateType: event.AggregateKDS})
	if len(got) != 1 || got[0].EventID != "b" {
		t.Fatalf("type filter: got %v", got)
	}
	// Aggregate fast path.
	got = s.GetEvents(event.Filter{TenantID: "demo", StoreID: "store_001", AggregateID: "O1"})
	if len(got) != 1 || got[0].EventID != "a" {
		t.Fatalf("aggregate filter: got %v", got)
	}
}

func TestEvictionKeepsIndexesConsistent(t *testing.T) {
	s := newTestStore(3)
	for i := 1; i <= 5; i++ {
		e := makeEvent(fmt.Sprintf("e%d", i), int64(i), "D1")
		e.Version = int64(i)
		if _, err := s.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if s.Len() != 3 {
		t.Fatalf("Len after eviction: got %d, want 3", s.Len())
	}
	// Oldest canonical events are gone from every index.
	for _, id := range []string{"e1", "e2"} {
		if _, ok := s.Get(id); ok {
			t.Fatalf("evicted event %s still retrievable", id)
		}
	}
	bulk := s.GetBulk(0, 100)
	if len(bulk) != 3 || bulk[0].EventID != "e3" {
		t.Fatalf("ordered index after eviction: got %d events starting %s", len(bulk), bulk[0].EventID)
	}
	agg := s.GetAggregate("demo", "store_001", "O1")
	if len(agg) != 3 || agg[0].Version != 3 {
		t.Fatalf("aggregate index after eviction: got %d events, first version %d", len(agg), agg[0].Version)
	}
	// LastLamport is a high-water mark; eviction does not lower it.
	if s.LastLamport() != 5 {
		t.Fatalf("LastLamport: got %d, want 5", s.LastLamport())
	}
}

func TestStatsCounters(t *testing.T) {
	s := newTestStore(0)
	a := makeEvent("a", 1, "D1")
	b := makeEvent("b", 2, "D1")
	b.Type = "order.paid"
	c := makeEvent("c", 3, "D1")
	c.TenantID = "other"
	for _, e := range []*event.Event{a, b, c} {
		if _, err := s.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	st := s.Stats()
	if st.TotalEvents != 3 {
		t.Fatalf("TotalEvents: got %d, want 3", st.TotalEvents)
	}
	if st.LastLamport != 3 {
		t.Fatalf("LastLamport: got %d, want 3", st.LastLamport)
	}
	if st.PerTenant["demo"] != 2 || st.PerTenant["other"] != 1 {
		t.Fatalf("PerTenant: got %v", st.PerTenant)
	}
	if st.PerType["order.created"] != 2 || st.PerType["order.paid"] != 1 {
		t.Fatalf("PerType: got %v", st.PerType)
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(0)
	if _, err := s.Append(makeEvent("a", 1, "D1")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Len after Clear: got %d", s.Len())
	}
	if s.LastLamport() != 0 {
		t.Fatalf("LastLamport after Clear: got %d", s.LastLamport())
	}
}
