package hub

import (
	"sync/atomic"
	"time"

	"github.com/adred-codev/poshub/internal/monitoring"
)

// broadcastRoom sends a pre-serialized frame to every member of a room,
// optionally excluding one connection (the acquirer of a lock already got
// its direct response). The member list is an immutable snapshot, so the
// iteration tolerates concurrent joins and leaves.
//
// Sends never block: a full buffer earns the client a strike, and
// maxSendStrikes consecutive strikes disconnect it. One stalled kitchen
// display must not wedge the whole room's fan-out.
func (s *Server) broadcastRoom(room string, data []byte, exclude *Client) {
	members := s.rooms.snapshot(room)
	if len(members) == 0 {
		return
	}

	for _, client := range members {
		if client == exclude {
			continue
		}
		if client.enqueue(data) {
			continue
		}

		attempts := atomic.AddInt32(&client.sendAttempts, 1)
		if attempts == 1 {
			s.logger.Warn().
				Int64("client_id", client.id).
				Str("room", room).
				Str("reason", "send_buffer_full").
				Msg("Client is slow")
		}
		if attempts >= maxSendStrikes {
			s.logger.Warn().
				Int64("client_id", client.id).
				Int32("consecutive_failures", attempts).
				Msg("Disconnecting slow client")
			monitoring.SlowClientsDisconnected.Inc()

			// No courtesy close frame here: only the write pump may write
			// to the conn, and its buffer is the problem. disconnectClient
			// closes the transport, which ends both pumps.
			s.disconnectClient(client, "too_slow")
		}
	}
}

// reply sends a frame directly to one client, best-effort.
func (s *Server) reply(c *Client, msgType string, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		s.logger.Error().
			Err(err).
			Int64("client_id", c.id).
			Str("message_type", msgType).
			Msg("Failed to serialize reply")
		return
	}
	if !c.enqueue(data) {
		s.logger.Warn().
			Int64("client_id", c.id).
			Str("message_type", msgType).
			Msg("Client buffer full, reply dropped")
	}
}

// replyError sends an error frame. State is unchanged and the connection
// stays open; the client decides what to do next.
func (s *Server) replyError(c *Client, code, message string) {
	s.reply(c, msgError, errorPayload{Code: code, Message: message})
}

// pong answers a ping with the current server time (helps clients detect
// clock skew on the LAN).
func (s *Server) pong(c *Client) {
	s.reply(c, msgPong, pongPayload{TS: time.Now().UnixMilli()})
}
