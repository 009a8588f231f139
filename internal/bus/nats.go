package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection with JSON helpers.
type Client struct{ nc *nats.Conn }

// Connect dials url and keeps reconnecting for the lifetime of the process.
func Connect(url, name string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

// Close drains subscriptions and pending publishes before closing.
func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

// Connected reports whether the underlying connection is usable.
func (c *Client) Connected() bool {
	return c != nil && c.nc != nil && c.nc.IsConnected()
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

// Handler processes one message payload. A non-nil reply is JSON encoded and
// sent back when the message carries a reply subject.
type Handler func(ctx context.Context, data []byte) (reply any)

// QueueSubscribeJSON joins queue on subject; each message gets its own
// context bounded by timeout.
func (c *Client) QueueSubscribeJSON(subject, queue string, timeout time.Duration, handler Handler) (*nats.Subscription, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return c.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		reply := handler(ctx, msg.Data)
		if msg.Reply == "" || reply == nil {
			return
		}
		b, err := json.Marshal(reply)
		if err != nil {
			return
		}
		_ = msg.Respond(b)
	})
}
