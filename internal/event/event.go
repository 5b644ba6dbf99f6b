// Package event defines the domain event model shared by the store and the
// session layer: the wire shape of an event, its validation rules, and the
// canonical total order every replay path must reproduce.
package event

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid is wrapped by every validation failure so callers can map the
// whole class to a single wire error code.
var ErrInvalid = errors.New("invalid event")

// Aggregate types form a closed taxonomy. Events naming anything else are
// rejected at append time.
const (
	AggregateOrder     = "order"
	AggregateUser      = "user"
	AggregateProduct   = "product"
	AggregateKDS       = "kds"
	AggregateBDS       = "bds"
	AggregateInventory = "inventory"
	AggregatePayment   = "payment"
)

var aggregateTypes = map[string]struct{}{
	AggregateOrder:     {},
	AggregateUser:      {},
	AggregateProduct:   {},
	AggregateKDS:       {},
	AggregateBDS:       {},
	AggregateInventory: {},
	AggregatePayment:   {},
}

// Actor identifies who produced an event.
type Actor struct {
	DeviceID string `json:"deviceId"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}

// Stamp is the ordering key of an event: the Lamport timestamp assigned by
// the producing device, tie-broken by device ID.
type Stamp struct {
	Lamport  int64  `json:"lamport"`
	DeviceID string `json:"deviceId"`
}

// Event is the atomic unit of synchronization. Events are immutable once
// appended to the store; the payload map must not be mutated by readers.
type Event struct {
	EventID       string         `json:"eventId"`
	TenantID      string         `json:"tenantId"`
	StoreID       string         `json:"storeId"`
	AggregateType string         `json:"aggregateType"`
	AggregateID   string         `json:"aggregateId"`
	Version       int64          `json:"version"`
	Type          string         `json:"type"`
	At            time.Time      `json:"at"`
	Actor         Actor          `json:"actor"`
	Clock         Stamp          `json:"clock"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// RoomKey returns the isolation key of the event, "tenantId:storeId".
func (e *Event) RoomKey() string {
	return e.TenantID + ":" + e.StoreID
}

// AggregateKey returns the key of the aggregate index,
// "tenantId:storeId:aggregateId".
func (e *Event) AggregateKey() string {
	return e.TenantID + ":" + e.StoreID + ":" + e.AggregateID
}

// Validate checks the structural rules every appended event must satisfy.
// It does not interpret the payload.
func (e *Event) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("%w: eventId is required", ErrInvalid)
	case e.TenantID == "":
		return fmt.Errorf("%w: tenantId is required", ErrInvalid)
	case e.StoreID == "":
		return fmt.Errorf("%w: storeId is required", ErrInvalid)
	case e.AggregateType == "":
		return fmt.Errorf("%w: aggregateType is required", ErrInvalid)
	case e.AggregateID == "":
		return fmt.Errorf("%w: aggregateId is required", ErrInvalid)
	case e.Type == "":
		return fmt.Errorf("%w: type is required", ErrInvalid)
	case e.At.IsZero():
		return fmt.Errorf("%w: at is required", ErrInvalid)
	case e.Version < 1:
		return fmt.Errorf("%w: version must be a positive integer, got %d", ErrInvalid, e.Version)
	case e.Actor.DeviceID == "":
		return fmt.Errorf("%w: actor.deviceId is required", ErrInvalid)
	case e.Clock.DeviceID == "":
		return fmt.Errorf("%w: clock.deviceId is required", ErrInvalid)
	case e.Clock.Lamport < 0:
		return fmt.Errorf("%w: clock.lamport must be nonnegative, got %d", ErrInvalid, e.Clock.Lamport)
	}
	if _, ok := aggregateTypes[e.AggregateType]; !ok {
		return fmt.Errorf("%w: unknown aggregateType %q", ErrInvalid, e.AggregateType)
	}
	return nil
}

// Less defines the canonical total order over events: Lamport ascending,
// tie-broken by the stamping device ID (lexicographic). Concurrent writers
// may mint the same Lamport value, so every ordered path (replay, queries,
// eviction) must use this comparator rather than the timestamp alone.
func Less(a, b *Event) bool {
	if a.Clock.Lamport != b.Clock.Lamport {
		return a.Clock.Lamport < b.Clock.Lamport
	}
	return a.Clock.DeviceID < b.Clock.DeviceID
}

// Filter selects events for query paths. Zero values mean "any".
// FromLamport is exclusive, ToLamport inclusive.
type Filter struct {
	TenantID      string
	StoreID       string
	AggregateType string
	AggregateID   string
	FromLamport   int64
	ToLamport     int64
	FromTime      time.Time
	ToTime        time.Time
}

// Matches reports whether e passes every set constraint of the filter.
func (f Filter) Matches(e *Event) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.StoreID != "" && e.StoreID != f.StoreID {
		return false
	}
	if f.AggregateType != "" && e.AggregateType != f.AggregateType {
		return false
	}
	if f.AggregateID != "" && e.AggregateID != f.AggregateID {
		return false
	}
	if f.FromLamport > 0 && e.Clock.Lamport <= f.FromLamport {
		return false
	}
	if f.ToLamport > 0 && e.Clock.Lamport > f.ToLamport {
		return false
	}
	if !f.FromTime.IsZero() && e.At.Before(f.FromTime) {
		return false
	}
	if !f.ToTime.IsZero() && e.At.After(f.ToTime) {
		return false
	}
	return true
}
