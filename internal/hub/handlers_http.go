package hub

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/adred-codev/poshub/internal/auth"
	"github.com/adred-codev/poshub/internal/event"
)

// The HTTP side channel is read-only except for login. Everything here
// serves operators and device bootstrap, not the sync path.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": s.Uptime().String(),
	})
}

// peerStatus is one row of /status: the connected-client record as the
// operator sees it.
type peerStatus struct {
	ConnectionID int64     `json:"connectionId"`
	DeviceID     string    `json:"deviceId,omitempty"`
	TenantID     string    `json:"tenantId,omitempty"`
	StoreID      string    `json:"storeId,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	Registered   bool      `json:"registered"`
	Cursor       int64     `json:"cursor"`
	LastSeen     time.Time `json:"lastSeen"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var peers []peerStatus
	s.clients.Range(func(key, _ any) bool {
		c, ok := key.(*Client)
		if !ok {
			return true
		}
		deviceID, tenantID, storeID, userID, _, _ := c.identity()
		peers = append(peers, peerStatus{
			ConnectionID: c.id,
			DeviceID:     deviceID,
			TenantID:     tenantID,
			StoreID:      storeID,
			UserID:       userID,
			Registered:   c.isRegistered(),
			Cursor:       c.cursor.Load(),
			LastSeen:     c.lastSeenAt(),
		})
		return true
	})
	sort.Slice(peers, func(i, j int) bool { return peers[i].ConnectionID < peers[j].ConnectionID })

	writeJSON(w, http.StatusOK, map[string]any{
		"leaderId": s.leaderID,
		"peers":    peers,
		"rooms":    s.rooms.counts(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.store.Stats()
	cpuPct, rssMB := s.sampler.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"connectedClients": atomic.LoadInt64(&s.clientCount),
		"totalEvents":      st.TotalEvents,
		"lastLamport":      st.LastLamport,
		"eventsPerTenant":  st.PerTenant,
		"eventsPerType":    st.PerType,
		"uptime":           s.Uptime().String(),
		"cpuPercent":       cpuPct,
		"memoryMB":         rssMB,
	})
}

func (s *Server) handleLockStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stats": s.locks.Stats(),
	})
}

func (s *Server) handleLockScope(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	store := r.PathValue("store")
	writeJSON(w, http.StatusOK, map[string]any{
		"tenantId": tenant,
		"storeId":  store,
		"locks":    s.locks.ActiveLocks(tenant, store),
		"stats":    s.locks.Stats(),
	})
}

// handleEventDump serves the debugging event dump with the query filter of
// the store.
func (s *Server) handleEventDump(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := event.Filter{
		TenantID:      q.Get("tenantId"),
		StoreID:       q.Get("storeId"),
		AggregateType: q.Get("aggregateType"),
		AggregateID:   q.Get("aggregateId"),
	}
	if v := q.Get("fromLamport"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "fromLamport must be an integer"})
			return
		}
		f.FromLamport = n
	}
	if v := q.Get("toLamport"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "toLamport must be an integer"})
			return
		}
		f.ToLamport = n
	}

	events := s.store.GetEvents(f)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TenantID string `json:"tenantId"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "malformed login request",
		})
		return
	}

	user, token, expiresAt, err := s.auth.Login(req.Email, req.Password, req.TenantID)
	if err != nil {
		if err == auth.ErrInvalidCredentials {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"error":   "invalid credentials",
			})
			return
		}
		s.logger.Error().Err(err).Msg("Login failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "internal error",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"user": user,
			"session": map[string]any{
				"sessionId": token,
				"expiresAt": expiresAt,
			},
		},
	})
}
