package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/anatoly-dev/go-presence-gateway/pkg/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is one live socket. It satisfies presence.Conn; the session id is
// stored here at creation so inbound frames never need a reverse lookup.
type Client struct {
	ID         string
	Connection *websocket.Conn
	Manager    *Manager
	Connected  time.Time

	send    chan []byte
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

// Send queues msg for the write pump. It never blocks: a closed client or a
// full buffer drops the message.
func (c *Client) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.Manager.logger.Warn("Client send buffer full, dropping message", zap.String("clientID", c.ID))
		if c.Manager.metrics != nil {
			c.Manager.metrics.SendBufferOverflow.Inc()
		}
		return false
	}
}

func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) readPump() {
	defer func() {
		c.Manager.removeClient(c)
		c.Connection.Close()
	}()

	cfg := c.Manager.cfg
	c.Connection.SetReadLimit(cfg.MaxMessageSize)
	c.Connection.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.Connection.SetPongHandler(func(string) error {
		c.Connection.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		return nil
	})

	for {
		_, message, err := c.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				c.Manager.logger.Info("WebSocket closed unexpectedly",
					zap.Error(err),
					zap.String("clientID", c.ID))

				if c.Manager.metrics != nil {
					c.Manager.metrics.UnexpectedCloseCount.Inc()
				}
			}
			break
		}

		if c.Manager.metrics != nil {
			c.Manager.metrics.BytesReceived.Add(float64(len(message)))
			c.Manager.metrics.MessagesReceived.Inc()
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.Manager.logger.Debug("Rate limit exceeded, dropping message", zap.String("clientID", c.ID))
			if c.Manager.metrics != nil {
				c.Manager.metrics.RateLimitedMessages.Inc()
			}
			continue
		}

		if err := c.Manager.hub.HandleMessage(c.ID, message); err != nil {
			if errors.Is(err, models.ErrMalformedUpdate) {
				c.Manager.logger.Warn("Invalid message format",
					zap.String("clientID", c.ID),
					zap.ByteString("message", message),
					zap.Error(err))
				continue
			}

			c.Manager.logger.Error("Failed to handle message", zap.String("clientID", c.ID), zap.Error(err))
		}
	}
}

func (c *Client) writePump() {
	cfg := c.Manager.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Connection.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one event per frame: clients parse each frame as a single JSON document
			if err := c.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Manager.logger.Debug("Write failed", zap.String("clientID", c.ID), zap.Error(err))
				return
			}

			if c.Manager.metrics != nil {
				c.Manager.metrics.BytesSent.Add(float64(len(message)))
			}

		case <-ticker.C:
			c.Connection.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
