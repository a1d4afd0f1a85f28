package natsbus

import (
	"encoding/json"
	"fmt"
	"log"

	nc "github.com/nats-io/nats.go"
)

// Client wraps a nats.Conn, grounded on the teacher's
// internal/nats/client.go wrapper of the same shape.
type Client struct {
	conn *nc.Conn
}

// NewClient connects to url with reconnect-forever options, logging
// transitions the same way the teacher's own NewClient does.
func NewClient(url string) (*Client, error) {
	conn, err := nc.Connect(url,
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(c *nc.Conn, err error) {
			log.Printf("[NATS] disconnected: %v", err)
		}),
		nc.ReconnectHandler(func(c *nc.Conn) {
			log.Printf("[NATS] reconnected to %s", c.ConnectedUrl())
		}),
		nc.ClosedHandler(func(c *nc.Conn) {
			log.Printf("[NATS] connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection without draining pending messages.
func (c *Client) Close() {
	c.conn.Close()
}

// PublishJSON marshals v and publishes it on subject.
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", subject, err)
	}
	return c.conn.Publish(subject, data)
}

// IsConnected reports the underlying connection's status.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Subscribe registers a raw handler on subject, returning the
// subscription so a caller can Unsubscribe later. Exposed mainly for
// controllers that want to consume bridge.* subjects directly rather
// than going through this package's own Republisher.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) (*nc.Subscription, error) {
	return c.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(msg.Subject, msg.Data)
	})
}
