// Package lock implements pessimistic per-aggregate mutual exclusion with
// bounded holder time: at most one device may edit an aggregate (typically
// an order) within a (tenant, store) scope at a time. Locks self-expire by
// TTL; a periodic sweep garbage-collects expired records.
package lock

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/poshub/internal/monitoring"
)

// DefaultTTL bounds how long a silent holder keeps a lock.
const DefaultTTL = 5 * time.Minute

// Lock is a lock record. Values returned from the manager are copies;
// mutating them has no effect on the manager's state.
type Lock struct {
	TenantID    string    `json:"tenantId"`
	StoreID     string    `json:"storeId"`
	AggregateID string    `json:"aggregateId"`
	DeviceID    string    `json:"deviceId"`
	UserID      string    `json:"userId,omitempty"`
	UserName    string    `json:"userName,omitempty"`
	AcquiredAt  time.Time `json:"acquiredAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Result is the outcome of an acquire/renew/release call. Contention and
// non-owner calls are not errors; they surface on the wire as success:false
// plus an optional reason.
type Result struct {
	Success bool   `json:"success"`
	Lock    *Lock  `json:"lock,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Stats summarizes the manager for the HTTP surface.
type Stats struct {
	TotalLocks int            `json:"totalLocks"`
	PerTenant  map[string]int `json:"perTenant"`
	PerStore   map[string]int `json:"perStore"`
}

// Manager owns every lock record. All methods are safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*Lock // "tenant:store:aggregateId" → record

	ttl    time.Duration
	logger zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once

	// now is swappable for TTL tests.
	now func() time.Time
}

// NewManager creates a manager and starts the expiry sweep. ttl <= 0
// selects DefaultTTL; sweepEvery <= 0 selects ttl/5 (the sweep interval
// bounds the lag between expiry and garbage collection).
func NewManager(ttl, sweepEvery time.Duration, logger zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepEvery <= 0 {
		sweepEvery = ttl / 5
	}
	m := &Manager{
		locks:  make(map[string]*Lock),
		ttl:    ttl,
		logger: logger,
		stop:   make(chan struct{}),
		now:    time.Now,
	}
	go m.sweepLoop(sweepEvery)
	return m
}

func key(tenantID, storeID, aggregateID string) string {
	return tenantID + ":" + storeID + ":" + aggregateID
}

// Acquire takes the lock for deviceID, or renews it if deviceID already
// holds it (owner re-acquire extends expiry by TTL from now). A request
// against an unexpired lock held by another device fails with reason
// "held_by:<deviceId>" and the holder's record attached.
func (m *Manager) Acquire(tenantID, storeID, aggregateID, deviceID, userID, userName string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := key(tenantID, storeID, aggregateID)
	if existing, ok := m.locks[k]; ok && existing.ExpiresAt.After(now) {
		if existing.DeviceID == deviceID {
			existing.ExpiresAt = now.Add(m.ttl)
			cp := *existing
			return Result{Success: true, Lock: &cp}
		}
		monitoring.LocksContended.Inc()
		cp := *existing
		return Result{Success: false, Lock: &cp, Reason: "held_by:" + existing.DeviceID}
	}

	l := &Lock{
		TenantID:    tenantID,
		StoreID:     storeID,
		AggregateID: aggregateID,
		DeviceID:    deviceID,
		UserID:      userID,
		UserName:    userName,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(m.ttl),
	}
	m.locks[k] = l
	monitoring.LocksAcquired.Inc()
	monitoring.LocksActive.Set(float64(len(m.locks)))

	m.logger.Debug().
		Str("aggregate_id", aggregateID).
		Str("device_id", deviceID).
		Str("tenant_id", tenantID).
		Str("store_id", storeID).
		Msg("Lock acquired")

	cp := *l
	return Result{Success: true, Lock: &cp}
}

// Renew extends the owner's lock by TTL from now (sliding window). Any
// other caller, or a missing/expired lock, yields success:false.
func (m *Manager) Renew(tenantID, storeID, aggregateID, deviceID string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := key(tenantID, storeID, aggregateID)
	existing, ok := m.locks[k]
	if !ok || !existing.ExpiresAt.After(now) || existing.DeviceID != deviceID {
		return Result{Success: false}
	}
	existing.ExpiresAt = now.Add(m.ttl)
	cp := *existing
	return Result{Success: true, Lock: &cp}
}

// Release removes the lock if deviceID owns it. Non-owner release is a
// silent no-op returning success:false.
func (m *Manager) Release(tenantID, storeID, aggregateID, deviceID string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(tenantID, storeID, aggregateID)
	existing, ok := m.locks[k]
	if !ok || existing.DeviceID != deviceID {
		return Result{Success: false}
	}
	delete(m.locks, k)
	monitoring.LocksReleased.WithLabelValues(monitoring.ReleaseReasonManual).Inc()
	monitoring.LocksActive.Set(float64(len(m.locks)))
	cp := *existing
	return Result{Success: true, Lock: &cp}
}

// ReleaseDeviceLocks atomically removes every lock owned by deviceID and
// returns the removed records so the session layer can broadcast releases.
// Called on device disconnect.
func (m *Manager) ReleaseDeviceLocks(deviceID string) []*Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released []*Lock
	for k, l := range m.locks {
		if l.DeviceID == deviceID {
			cp := *l
			released = append(released, &cp)
			delete(m.locks, k)
			monitoring.LocksReleased.WithLabelValues(monitoring.ReleaseReasonDisconnected).Inc()
		}
	}
	if len(released) > 0 {
		monitoring.LocksActive.Set(float64(len(m.locks)))
		m.logger.Info().
			Str("device_id", deviceID).
			Int("released", len(released)).
			Msg("Released device locks on disconnect")
	}
	return released
}

// Status returns the lock record if present and unexpired. A stale record
// encountered here is lazily garbage-collected and nil is returned.
func (m *Manager) Status(tenantID, storeID, aggregateID string) *Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(tenantID, storeID, aggregateID)
	existing, ok := m.locks[k]
	if !ok {
		return nil
	}
	if !existing.ExpiresAt.After(m.now()) {
		delete(m.locks, k)
		monitoring.LocksReleased.WithLabelValues(monitoring.ReleaseReasonExpired).Inc()
		monitoring.LocksActive.Set(float64(len(m.locks)))
		return nil
	}
	cp := *existing
	return &cp
}

// ActiveLocks returns the unexpired locks within (tenant, store).
func (m *Manager) ActiveLocks(tenantID, storeID string) []*Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []*Lock
	for _, l := range m.locks {
		if l.TenantID == tenantID && l.StoreID == storeID && l.ExpiresAt.After(now) {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out
}

// Stats counts unexpired locks per tenant and per tenant:store scope.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	st := Stats{
		PerTenant: make(map[string]int),
		PerStore:  make(map[string]int),
	}
	for _, l := range m.locks {
		if !l.ExpiresAt.After(now) {
			continue
		}
		st.TotalLocks++
		st.PerTenant[l.TenantID]++
		st.PerStore[l.TenantID+":"+l.StoreID]++
	}
	return st
}

// TTL returns the configured lock TTL.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Shutdown stops the sweep goroutine. Idempotent.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// sweepLoop garbage-collects expired records. The sweep itself does not
// notify the session layer: clients discover expiry on their next status
// query or acquire attempt.
func (m *Manager) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, l := range m.locks {
		if !l.ExpiresAt.After(now) {
			delete(m.locks, k)
			removed++
			monitoring.LocksReleased.WithLabelValues(monitoring.ReleaseReasonExpired).Inc()
		}
	}
	if removed > 0 {
		monitoring.LocksActive.Set(float64(len(m.locks)))
		m.logger.Debug().Int("removed", removed).Msg("Swept expired locks")
	}
}
