package hub

import (
	"bufio"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/adred-codev/poshub/internal/monitoring"
)

// writePump drains the client's send channel onto the connection. Writes
// are batched through a buffered writer to cut syscalls when a replay or a
// busy room queues several frames at once.
func (s *Server) writePump(c *Client) {
	defer monitoring.RecoverPanic(s.logger, "writePump", map[string]any{
		"client_id": c.id,
	})

	writer := bufio.NewWriter(c.conn)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				wsutil.WriteServerMessage(c.conn, ws.OpClose, []byte{})
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, message); err != nil {
				s.logger.Debug().Err(err).Int64("client_id", c.id).Msg("Failed to write message")
				return
			}
			monitoring.MessagesSent.Inc()
			monitoring.BytesSent.Add(float64(len(message)))

			// Batch whatever else is already queued before flushing.
			n := len(c.send)
			for i := 0; i < n; i++ {
				message = <-c.send
				if err := wsutil.WriteServerMessage(writer, ws.OpText, message); err != nil {
					s.logger.Debug().Err(err).Int64("client_id", c.id).Msg("Failed to write message")
					return
				}
				monitoring.MessagesSent.Inc()
				monitoring.BytesSent.Add(float64(len(message)))
			}

			if err := writer.Flush(); err != nil {
				s.logger.Debug().Err(err).Int64("client_id", c.id).Msg("Failed to flush writer")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				s.logger.Debug().Err(err).Int64("client_id", c.id).Msg("Failed to send ping")
				return
			}
		}
	}
}
