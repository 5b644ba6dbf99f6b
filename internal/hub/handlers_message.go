package hub

import (
	"encoding/json"
	"time"

	"github.com/adred-codev/poshub/internal/event"
	"github.com/adred-codev/poshub/internal/monitoring"
)

// handleClientMessage routes one inbound frame. Messages on a single
// connection are processed in arrival order (the read pump calls this
// serially), which is the per-connection ordering guarantee clients rely on.
func (s *Server) handleClientMessage(c *Client, data []byte) {
	var req wireMessage
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Warn().
			Int64("client_id", c.id).
			Err(err).
			Msg("Client sent invalid JSON")
		s.replyError(c, codeInvalidMessage, "malformed message envelope")
		return
	}

	switch req.Type {
	case msgHello:
		s.handleHello(c, req.Data)
	case msgEventsAppend:
		s.handleAppend(c, req.Data)
	case msgCursorRequest:
		s.handleCursorRequest(c, req.Data)
	case msgLockRequest:
		s.handleLockRequest(c, req.Data)
	case msgLockRenew:
		s.handleLockRenew(c, req.Data)
	case msgLockRelease:
		s.handleLockRelease(c, req.Data)
	case msgLockStatus:
		s.handleLockStatus(c, req.Data)
	case msgPing:
		c.touch()
		s.pong(c)
	default:
		s.logger.Warn().
			Int64("client_id", c.id).
			Str("message_type", req.Type).
			Msg("Client sent unknown message type")
		s.replyError(c, codeInvalidMessage, "unknown message type: "+req.Type)
	}
}

// handleHello moves the connection from CONNECTED to REGISTERED: validate
// identity, optionally resolve the session, join the room, ack, and replay
// everything past the client's cursor.
func (s *Server) handleHello(c *Client, data []byte) {
	var hello helloPayload
	if err := json.Unmarshal(data, &hello); err != nil {
		s.replyError(c, codeInvalidHello, "malformed hello payload")
		return
	}
	if hello.DeviceID == "" || hello.TenantID == "" || hello.StoreID == "" {
		s.replyError(c, codeInvalidHello, "deviceId, tenantId and storeId are required")
		return
	}

	// Session resolution is non-fatal: read-only peers like displays
	// connect without credentials.
	var userID, userName string
	if hello.Auth != nil && hello.Auth.SessionID != "" {
		session, err := s.auth.Resolve(hello.Auth.SessionID)
		switch {
		case err != nil:
			s.logger.Warn().
				Int64("client_id", c.id).
				Err(err).
				Msg("Session resolution failed, continuing unauthenticated")
		case session.TenantID != hello.TenantID:
			s.logger.Warn().
				Int64("client_id", c.id).
				Str("session_tenant", session.TenantID).
				Str("hello_tenant", hello.TenantID).
				Msg("Session tenant mismatch, continuing unauthenticated")
		default:
			userID = session.UserID
			userName = session.UserName
		}
	}

	// A connection belongs to exactly one room: a re-hello that changes
	// tenant or store moves the client, it never accumulates memberships.
	newRoom := hello.TenantID + ":" + hello.StoreID
	if _, _, _, _, _, oldRoom := c.identity(); oldRoom != "" && oldRoom != newRoom {
		s.rooms.remove(oldRoom, c)
	}

	c.register(hello.DeviceID, hello.TenantID, hello.StoreID, userID, userName)
	if hello.Cursor > 0 {
		c.advanceCursor(hello.Cursor)
	}
	s.rooms.add(newRoom, c)

	s.logger.Info().
		Int64("client_id", c.id).
		Str("device_id", hello.DeviceID).
		Str("room", hello.TenantID+":"+hello.StoreID).
		Str("user_id", userID).
		Int64("cursor", hello.Cursor).
		Msg("Client registered")

	s.reply(c, msgHelloAck, helloAckPayload{
		LeaderID:       s.leaderID,
		ServerTime:     time.Now().UnixMilli(),
		SnapshotNeeded: false,
	})

	s.replayFrom(c, hello.Cursor)
}

// replayFrom pages the store from the given cursor until the client is
// caught up, so catch-up stays lossless even when the gap exceeds one
// batch. Each page advances the client's cursor.
func (s *Server) replayFrom(c *Client, fromLamport int64) {
	cursor := fromLamport
	sent := false
	for {
		events := s.store.GetBulk(cursor, s.cfg.ReplayBatch)
		if len(events) == 0 {
			break
		}
		last := events[len(events)-1].Clock.Lamport
		s.reply(c, msgEventsBulk, bulkPayload{
			Events:      events,
			FromLamport: cursor,
			ToLamport:   last,
		})
		c.advanceCursor(last)
		cursor = last
		sent = true
	}
	if sent {
		monitoring.ReplayRequests.Inc()
	}
}

// handleAppend ingests one event: authorization, validation, clock
// observation, idempotent append, then relay to the whole room including
// the sender, so every client applies only hub-sequenced copies.
func (s *Server) handleAppend(c *Client, data []byte) {
	if !c.isRegistered() {
		s.replyError(c, codeNotAuthenticated, "hello required before events.append")
		return
	}

	var e event.Event
	if err := json.Unmarshal(data, &e); err != nil {
		s.replyError(c, codeInvalidEvent, "malformed event payload")
		return
	}

	_, tenantID, storeID, _, _, room := c.identity()
	if e.TenantID != tenantID || e.StoreID != storeID {
		// Cross-room injection attempt. No state change, no broadcast.
		monitoring.EventsRejected.Inc()
		s.replyError(c, codeUnauthorized, "event tenant/store does not match registered room")
		return
	}

	// The hub's clock must never lag behind an event it has seen.
	s.clock.Observe(e.Clock.Lamport)

	appended, err := s.store.Append(&e)
	if err != nil {
		s.replyError(c, codeInvalidEvent, err.Error())
		return
	}
	if !appended {
		// Idempotent duplicate: not an error, no broadcast.
		s.logger.Debug().
			Int64("client_id", c.id).
			Str("event_id", e.EventID).
			Msg("Duplicate append suppressed")
		return
	}

	c.advanceCursor(e.Clock.Lamport)

	relay, err := encode(msgEventsRelay, &e)
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", e.EventID).Msg("Failed to serialize relay")
		return
	}
	s.broadcastRoom(room, relay, nil)
	monitoring.RelaysTotal.Inc()

	s.logger.Debug().
		Int64("client_id", c.id).
		Str("event_id", e.EventID).
		Str("type", e.Type).
		Int64("lamport", e.Clock.Lamport).
		Str("room", room).
		Msg("Event appended and relayed")
}

// handleCursorRequest serves one page from an explicit cursor, ignoring the
// client's stored cursor.
func (s *Server) handleCursorRequest(c *Client, data []byte) {
	if !c.isRegistered() {
		s.replyError(c, codeNotAuthenticated, "hello required before cursor.request")
		return
	}

	var req cursorRequestPayload
	if err := json.Unmarshal(data, &req); err != nil {
		s.replyError(c, codeInvalidMessage, "malformed cursor.request payload")
		return
	}

	events := s.store.GetBulk(req.FromLamport, s.cfg.ReplayBatch)
	to := req.FromLamport
	if len(events) > 0 {
		to = events[len(events)-1].Clock.Lamport
	}
	s.reply(c, msgEventsBulk, bulkPayload{
		Events:      events,
		FromLamport: req.FromLamport,
		ToLamport:   to,
	})
	monitoring.ReplayRequests.Inc()
}

// decodeLockCommand parses the shared lock command payload and applies the
// REGISTERED gate common to all lock operations.
func (s *Server) decodeLockCommand(c *Client, data []byte) (lockCommandPayload, bool) {
	var cmd lockCommandPayload
	if !c.isRegistered() {
		s.replyError(c, codeNotAuthenticated, "hello required before lock operations")
		return cmd, false
	}
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.OrderID == "" {
		s.replyError(c, codeInvalidMessage, "malformed lock command payload")
		return cmd, false
	}
	// Lock commands are scoped to the client's own room regardless of what
	// the payload claims.
	_, tenantID, storeID, _, _, _ := c.identity()
	if cmd.TenantID == "" {
		cmd.TenantID = tenantID
	}
	if cmd.StoreID == "" {
		cmd.StoreID = storeID
	}
	if cmd.TenantID != tenantID || cmd.StoreID != storeID {
		s.replyError(c, codeUnauthorized, "lock tenant/store does not match registered room")
		return cmd, false
	}
	return cmd, true
}

func (s *Server) handleLockRequest(c *Client, data []byte) {
	cmd, ok := s.decodeLockCommand(c, data)
	if !ok {
		return
	}
	deviceID, _, _, userID, userName, room := c.identity()

	res := s.locks.Acquire(cmd.TenantID, cmd.StoreID, cmd.OrderID, deviceID, userID, userName)
	s.reply(c, msgLockResponse, lockResponsePayload{
		OrderID: cmd.OrderID,
		Success: res.Success,
		Lock:    res.Lock,
		Reason:  res.Reason,
	})

	if res.Success {
		// The acquirer already has the direct response; tell everyone else.
		data, err := encode(msgOrderLocked, orderLockedPayload{
			OrderID:    cmd.OrderID,
			DeviceID:   deviceID,
			UserName:   userName,
			AcquiredAt: res.Lock.AcquiredAt,
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to serialize order.locked broadcast")
			return
		}
		s.broadcastRoom(room, data, c)
	}
}

func (s *Server) handleLockRenew(c *Client, data []byte) {
	cmd, ok := s.decodeLockCommand(c, data)
	if !ok {
		return
	}
	deviceID, _, _, _, _, _ := c.identity()

	res := s.locks.Renew(cmd.TenantID, cmd.StoreID, cmd.OrderID, deviceID)
	payload := lockRenewedPayload{OrderID: cmd.OrderID, Success: res.Success}
	if res.Success {
		payload.ExpiresAt = &res.Lock.ExpiresAt
	}
	s.reply(c, msgLockRenewed, payload)
}

func (s *Server) handleLockRelease(c *Client, data []byte) {
	cmd, ok := s.decodeLockCommand(c, data)
	if !ok {
		return
	}
	deviceID, _, _, _, _, _ := c.identity()

	res := s.locks.Release(cmd.TenantID, cmd.StoreID, cmd.OrderID, deviceID)
	s.reply(c, msgLockReleased, lockReleaseAckPayload{OrderID: cmd.OrderID, Success: res.Success})

	if res.Success {
		s.broadcastLockReleased(res.Lock, monitoring.ReleaseReasonManual)
	}
}

func (s *Server) handleLockStatus(c *Client, data []byte) {
	cmd, ok := s.decodeLockCommand(c, data)
	if !ok {
		return
	}
	l := s.locks.Status(cmd.TenantID, cmd.StoreID, cmd.OrderID)
	s.reply(c, msgLockStatusResponse, lockStatusResponsePayload{
		OrderID:  cmd.OrderID,
		IsLocked: l != nil,
		Lock:     l,
	})
}
