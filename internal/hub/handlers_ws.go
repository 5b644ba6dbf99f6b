package hub

import (
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gobwas/ws"

	"github.com/adred-codev/poshub/internal/monitoring"
)

// handleWebSocket upgrades an HTTP request to a hub connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := getClientIP(r)

	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	// Admission: one semaphore slot per connection, rejected when full.
	select {
	case s.connectionsSem <- struct{}{}:
	default:
		s.logger.Warn().
			Str("client_ip", clientIP).
			Int("max_connections", s.cfg.MaxConnections).
			Msg("Connection rejected: at capacity")
		monitoring.ConnectionsFailed.Inc()
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-s.connectionsSem
		monitoring.ConnectionsFailed.Inc()
		s.logger.Error().
			Err(err).
			Str("client_ip", clientIP).
			Msg("WebSocket upgrade failed")
		return
	}

	client := s.newClient(conn)
	s.logger.Info().
		Int64("client_id", client.id).
		Str("client_ip", clientIP).
		Int64("current_connections", atomic.LoadInt64(&s.clientCount)).
		Msg("Client connected")

	go s.writePump(client)
	go s.readPump(client)
}

// getClientIP extracts the client IP, preferring X-Forwarded-For for the
// rare proxied deployment.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
