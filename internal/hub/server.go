// Package hub is the session layer: it accepts bidirectional client
// connections, registers them into tenant/store rooms, replays missed
// events from each client's cursor, fans out appends and lock events, and
// sweeps a device's locks when it disconnects.
package hub

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/poshub/internal/auth"
	"github.com/adred-codev/poshub/internal/clock"
	"github.com/adred-codev/poshub/internal/config"
	"github.com/adred-codev/poshub/internal/limits"
	"github.com/adred-codev/poshub/internal/lock"
	"github.com/adred-codev/poshub/internal/monitoring"
	"github.com/adred-codev/poshub/internal/store"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next message from the peer. Pings keep the
	// deadline fresh; a silent peer is dead after this.
	pongWait = 30 * time.Second

	// Ping period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Consecutive failed enqueues before a slow client is disconnected.
	maxSendStrikes = 3
)

// Server wires the core subsystems to the transport. Construction order is
// unidirectional: clock, store and lock manager are built first and handed
// in; the server holds the only references connections need.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	clock   *clock.Clock
	store   *store.Store
	locks   *lock.Manager
	auth    auth.Authenticator
	limiter *limits.MessageRateLimiter
	sampler *monitoring.SystemSampler

	leaderID string

	listener       net.Listener
	rooms          *roomIndex
	clients        sync.Map // *Client → struct{}
	clientSeq      int64
	clientCount    int64
	connectionsSem chan struct{}

	startTime    time.Time
	shuttingDown int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the session layer over the given core subsystems.
func New(cfg *config.Config, logger zerolog.Logger, clk *clock.Clock, st *store.Store, locks *lock.Manager, authn auth.Authenticator) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	leaderID := "poshub"
	if host, err := os.Hostname(); err == nil && host != "" {
		leaderID = "poshub-" + host
	}

	return &Server{
		cfg:            cfg,
		logger:         logger,
		clock:          clk,
		store:          st,
		locks:          locks,
		auth:           authn,
		limiter:        limits.NewMessageRateLimiter(cfg.MsgRateBurst, cfg.MsgRatePerSec),
		sampler:        monitoring.NewSystemSampler(),
		leaderID:       leaderID,
		rooms:          newRoomIndex(),
		connectionsSem: make(chan struct{}, cfg.MaxConnections),
		startTime:      time.Now(),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start begins listening and serving. Non-blocking; returns once the
// listener is up.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.sampler.Start(s.ctx, s.cfg.SampleInterval, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/locks", s.handleLockStats)
	mux.HandleFunc("GET /api/locks/{tenant}/{store}", s.handleLockScope)
	mux.HandleFunc("GET /api/events", s.handleEventDump)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.Handle("GET /metrics", monitoring.MetricsHandler())

	server := &http.Server{
		Handler:        mux,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Server accept loop error")
		}
	}()

	s.logger.Info().
		Str("addr", s.cfg.Addr()).
		Str("leader_id", s.leaderID).
		Int("max_connections", s.cfg.MaxConnections).
		Msg("Hub listening")
	return nil
}

// Shutdown drains connections gracefully: the listener closes first, then
// connected clients get the configured grace period before a force close.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Initiating graceful shutdown")
	atomic.StoreInt32(&s.shuttingDown, 1)

	if s.listener != nil {
		s.listener.Close()
	}

	grace := s.cfg.ShutdownGrace
	drainTimer := time.NewTimer(grace)
	checkTicker := time.NewTicker(250 * time.Millisecond)
	defer drainTimer.Stop()
	defer checkTicker.Stop()

drain:
	for {
		select {
		case <-drainTimer.C:
			remaining := atomic.LoadInt64(&s.clientCount)
			if remaining > 0 {
				s.logger.Warn().
					Int64("remaining_connections", remaining).
					Msg("Grace period expired, force closing remaining connections")
			}
			break drain
		case <-checkTicker.C:
			if atomic.LoadInt64(&s.clientCount) == 0 {
				s.logger.Info().Msg("All connections drained gracefully")
				break drain
			}
		}
	}

	s.clients.Range(func(key, _ any) bool {
		if client, ok := key.(*Client); ok {
			s.disconnectClient(client, "server_shutdown")
		}
		return true
	})

	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Graceful shutdown completed")
	return nil
}

// newClient registers a fresh connection in CONNECTED state (no room
// membership until hello). conn may be nil in tests.
func (s *Server) newClient(conn net.Conn) *Client {
	c := &Client{
		id:          atomic.AddInt64(&s.clientSeq, 1),
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		connectedAt: time.Now(),
	}
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()

	s.clients.Store(c, struct{}{})
	atomic.AddInt64(&s.clientCount, 1)
	monitoring.ConnectionsTotal.Inc()
	monitoring.ConnectionsActive.Inc()
	return c
}

// disconnectClient runs the disconnect path exactly once: release the
// device's locks, broadcast the releases to each lock's room, drop room
// membership and close the transport.
func (s *Server) disconnectClient(c *Client, reason string) {
	c.disconnectOnce.Do(func() {
		deviceID, _, _, _, _, room := c.identity()

		if c.isRegistered() && deviceID != "" {
			released := s.locks.ReleaseDeviceLocks(deviceID)
			for _, l := range released {
				s.broadcastLockReleased(l, monitoring.ReleaseReasonDisconnected)
			}
		}

		if room != "" {
			s.rooms.remove(room, c)
		}
		if _, loaded := s.clients.LoadAndDelete(c); loaded {
			atomic.AddInt64(&s.clientCount, -1)
			monitoring.ConnectionsActive.Dec()
			select {
			case <-s.connectionsSem:
			default:
			}
		}
		s.limiter.Remove(c.id)
		monitoring.DisconnectsTotal.WithLabelValues(reason).Inc()
		c.closeConn()

		s.logger.Info().
			Int64("client_id", c.id).
			Str("device_id", deviceID).
			Str("room", room).
			Str("reason", reason).
			Dur("connected_for", time.Since(c.connectedAt)).
			Msg("Client disconnected")
	})
}

// broadcastLockReleased notifies a lock's room that the lock is gone.
func (s *Server) broadcastLockReleased(l *lock.Lock, reason string) {
	data, err := encode(msgLockReleased, lockReleasedPayload{
		OrderID:  l.AggregateID,
		DeviceID: l.DeviceID,
		Reason:   reason,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to serialize lock release broadcast")
		return
	}
	s.broadcastRoom(l.TenantID+":"+l.StoreID, data, nil)
}

// Uptime reports how long the hub has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}
