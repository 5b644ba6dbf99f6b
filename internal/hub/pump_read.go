package hub

import (
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/adred-codev/poshub/internal/monitoring"
)

// readPump reads frames from the connection and dispatches them. Runs as
// one goroutine per connection; its exit triggers the disconnect path
// exactly once.
func (s *Server) readPump(c *Client) {
	// Panic recovery first so it runs last: a handler panic must still
	// reach the disconnect path below.
	defer monitoring.RecoverPanic(s.logger, "readPump", map[string]any{
		"client_id": c.id,
	})
	defer s.disconnectClient(c, "read_error")

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		monitoring.MessagesReceived.Inc()
		monitoring.BytesReceived.Add(float64(len(msg)))

		switch op {
		case ws.OpText:
			if !s.limiter.Allow(c.id) {
				monitoring.RateLimitedMessages.Inc()
				s.logger.Warn().
					Int64("client_id", c.id).
					Msg("Client rate limited")
				// Drop the message but keep the connection: a burst may be
				// a transient client bug, and the error frame tells them.
				s.replyError(c, codeRateLimitExceeded, "too many messages, slow down")
				continue
			}
			s.handleClientMessage(c, msg)
		case ws.OpPing:
			// gobwas answers pongs automatically.
		case ws.OpClose:
			return
		}
	}
}
