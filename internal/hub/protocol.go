package hub

import (
	"encoding/json"
	"time"

	"github.com/adred-codev/poshub/internal/event"
	"github.com/adred-codev/poshub/internal/lock"
)

// Message names routed by the session layer. Client→hub commands on the
// left column of the protocol table, hub→client notifications on the right.
const (
	msgHello              = "hello"
	msgHelloAck           = "hello.ack"
	msgEventsAppend       = "events.append"
	msgEventsRelay        = "events.relay"
	msgEventsBulk         = "events.bulk"
	msgCursorRequest      = "cursor.request"
	msgLockRequest        = "order.lock.request"
	msgLockResponse       = "order.lock.response"
	msgLockRenew          = "order.lock.renew"
	msgLockRenewed        = "order.lock.renewed"
	msgLockRelease        = "order.lock.release"
	msgLockReleased       = "order.lock.released"
	msgLockStatus         = "order.lock.status"
	msgLockStatusResponse = "order.lock.status.response"
	msgOrderLocked        = "order.locked"
	msgPing               = "ping"
	msgPong               = "pong"
	msgError              = "error"
)

// Error codes surfaced to clients. The connection stays open for all of
// them; clients decide whether to resend.
const (
	codeInvalidHello      = "INVALID_HELLO"
	codeInvalidMessage    = "INVALID_MESSAGE"
	codeInvalidEvent      = "INVALID_EVENT"
	codeNotAuthenticated  = "NOT_AUTHENTICATED"
	codeUnauthorized      = "UNAUTHORIZED"
	codeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// wireMessage is the envelope of every frame: the message name as routing
// key plus an opaque payload.
type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// encode serializes a typed frame.
func encode(msgType string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(wireMessage{Type: msgType, Data: data})
}

type helloAuth struct {
	SessionID string `json:"sessionId"`
}

type helloPayload struct {
	DeviceID string     `json:"deviceId"`
	TenantID string     `json:"tenantId"`
	StoreID  string     `json:"storeId"`
	Cursor   int64      `json:"cursor,omitempty"`
	Auth     *helloAuth `json:"auth,omitempty"`
}

type helloAckPayload struct {
	LeaderID       string `json:"leaderId"`
	ServerTime     int64  `json:"serverTime"`
	SnapshotNeeded bool   `json:"snapshotNeeded"`
}

type bulkPayload struct {
	Events      []*event.Event `json:"events"`
	FromLamport int64          `json:"fromLamport"`
	ToLamport   int64          `json:"toLamport"`
}

type cursorRequestPayload struct {
	FromLamport int64 `json:"fromLamport"`
}

// lockCommandPayload is shared by request/renew/release/status commands.
type lockCommandPayload struct {
	OrderID  string `json:"orderId"`
	TenantID string `json:"tenantId"`
	StoreID  string `json:"storeId"`
}

type lockResponsePayload struct {
	OrderID string     `json:"orderId"`
	Success bool       `json:"success"`
	Lock    *lock.Lock `json:"lock,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

type lockRenewedPayload struct {
	OrderID   string     `json:"orderId"`
	Success   bool       `json:"success"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type lockReleaseAckPayload struct {
	OrderID string `json:"orderId"`
	Success bool   `json:"success"`
}

type lockStatusResponsePayload struct {
	OrderID  string     `json:"orderId"`
	IsLocked bool       `json:"isLocked"`
	Lock     *lock.Lock `json:"lock,omitempty"`
}

// lockReleasedPayload is the room broadcast for explicit releases and
// disconnect sweeps.
type lockReleasedPayload struct {
	OrderID  string `json:"orderId"`
	DeviceID string `json:"deviceId"`
	Reason   string `json:"reason"`
}

// orderLockedPayload is broadcast to the room (excluding the acquirer) on a
// successful acquire.
type orderLockedPayload struct {
	OrderID    string    `json:"orderId"`
	DeviceID   string    `json:"deviceId"`
	UserName   string    `json:"userName,omitempty"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

type pongPayload struct {
	TS int64 `json:"ts"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
