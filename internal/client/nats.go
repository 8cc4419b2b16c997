package client

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSClient is a thin JetStream publisher used for the notification and
// audit-sink collaborators.
type NATSClient struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewNATSClient connects to NATS and initializes the JetStream context.
func NewNATSClient(url string) (*NATSClient, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &NATSClient{conn: conn, js: js}, nil
}

// Publish publishes a message to a subject.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(ctx, subject, data)
	return err
}

// Close drains and closes the connection.
func (c *NATSClient) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
	}
}
