package hub

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// sendBufferSize is the outbound queue per connection. A kitchen display on
// flaky wifi gets a few seconds of slack before the strike policy kicks in;
// LAN device counts are small enough that memory is not a concern.
const sendBufferSize = 256

// Client is one connected device. Identity fields are written once by the
// hello handler (on the read-pump goroutine) and read by broadcast paths
// and the HTTP status endpoint, hence the mutex.
type Client struct {
	id   int64
	conn net.Conn
	send chan []byte

	closeOnce      sync.Once
	disconnectOnce sync.Once

	mu         sync.RWMutex
	registered bool
	deviceID   string
	tenantID   string
	storeID    string
	userID     string
	userName   string
	room       string
	lastSeen   time.Time

	connectedAt time.Time

	// cursor is the greatest Lamport value this client has acknowledged.
	cursor atomic.Int64

	// sendAttempts counts consecutive failed enqueues (slow client strikes).
	sendAttempts int32
}

// register records the hello identity and room membership.
func (c *Client) register(deviceID, tenantID, storeID, userID, userName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = true
	c.deviceID = deviceID
	c.tenantID = tenantID
	c.storeID = storeID
	c.userID = userID
	c.userName = userName
	c.room = tenantID + ":" + storeID
	c.lastSeen = time.Now()
}

func (c *Client) isRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

// identity returns the registered identity fields as a snapshot.
func (c *Client) identity() (deviceID, tenantID, storeID, userID, userName, room string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID, c.tenantID, c.storeID, c.userID, c.userName, c.room
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Client) lastSeenAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

// advanceCursor raises the cursor to lamport if it is greater.
func (c *Client) advanceCursor(lamport int64) {
	for {
		cur := c.cursor.Load()
		if lamport <= cur || c.cursor.CompareAndSwap(cur, lamport) {
			return
		}
	}
}

// enqueue queues a frame for the write pump without blocking. Returns false
// when the client's buffer is full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		atomic.StoreInt32(&c.sendAttempts, 0)
		return true
	default:
		return false
	}
}

// closeConn closes the transport exactly once. Safe with a nil conn (tests
// drive handlers without a transport).
func (c *Client) closeConn() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
