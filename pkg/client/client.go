// Package client sends batch requests to a running Talos service.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	natsclient "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/internal/nats"
	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/service"
	"github.com/wehubfusion/Talos/pkg/storage"
)

// Requester is the request/reply subset of a NATS connection.
type Requester interface {
	RequestMsgWithContext(ctx context.Context, msg *natsclient.Msg) (*natsclient.Msg, error)
}

// Client issues batch requests. Replies that were offloaded to blob storage
// are fetched transparently when a store is configured.
//
// Example usage:
//
//	c := client.NewClient("nats://localhost:4222", nil)
//	if err := c.Connect(ctx); err != nil {
//	    logger.Fatal("Failed to connect", zap.Error(err))
//	}
//	defer c.Close()
//
//	results, err := c.Run(ctx, service.Task{Op: service.OpASCIIUpper, Items: items})
type Client struct {
	conn      *natsclient.Conn
	requester Requester
	config    *nats.ConnectionConfig
	subject   string
	store     storage.BlobStore
	logger    *zap.Logger
}

// NewClient creates a client with the default connection configuration.
func NewClient(url string, logger *zap.Logger) *Client {
	return NewClientWithConfig(nats.DefaultConnectionConfig(url), logger)
}

// NewClientWithConfig creates a client with a custom connection configuration.
func NewClientWithConfig(config *nats.ConnectionConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config:  config,
		subject: service.DefaultSubject,
		logger:  logger,
	}
}

// NewClientWithRequester wires a client to an existing requester. Useful for
// tests that avoid a running NATS server.
func NewClientWithRequester(r Requester, logger *zap.Logger) *Client {
	c := NewClientWithConfig(nats.DefaultConnectionConfig(""), logger)
	c.requester = r
	return c
}

// SetSubject overrides the request subject.
func (c *Client) SetSubject(subject string) {
	if subject != "" {
		c.subject = subject
	}
}

// SetBlobStore sets the store used to fetch offloaded replies.
func (c *Client) SetBlobStore(store storage.BlobStore) {
	c.store = store
}

// Connect establishes the NATS connection.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}
	conn, err := nats.Connect(ctx, c.config, c.logger)
	if err != nil {
		return sdkerrors.NewError(sdkerrors.CodeInternal, "failed to connect to NATS", err)
	}
	c.conn = conn
	c.requester = conn
	return nil
}

// Close drains and closes the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := nats.Close(c.conn)
	c.conn = nil
	c.requester = nil
	if err != nil {
		return sdkerrors.NewError(sdkerrors.CodeInternal, "failed to close connection", err)
	}
	return nil
}

// IsConnected reports whether requests can be sent.
func (c *Client) IsConnected() bool {
	if c.conn != nil {
		return nats.IsConnected(c.conn)
	}
	return c.requester != nil
}

// Do sends req and returns the decoded reply. Errors reported by the
// service stay in Reply.Error; the returned error covers transport and
// decoding only.
func (c *Client) Do(ctx context.Context, req *service.Request) (*service.Reply, error) {
	if c.requester == nil {
		return nil, sdkerrors.ErrNotConnected
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	msg := natsclient.NewMsg(c.subject)
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	start := time.Now()
	resp, err := c.requester.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", c.subject, err)
	}

	reply, err := decode(resp.Data)
	if err != nil {
		return nil, err
	}
	if reply.Blob != nil {
		if reply, err = c.fetch(ctx, reply); err != nil {
			return nil, err
		}
	}

	c.logger.Debug("Batch request completed",
		zap.String("request_id", reply.ID),
		zap.Int("request_bytes", len(data)),
		zap.Duration("round_trip", time.Since(start)))
	return reply, nil
}

// Run sends a single task and returns its results, turning a service error
// into a Go error.
func (c *Client) Run(ctx context.Context, task service.Task) ([]any, error) {
	reply, err := c.Do(ctx, &service.Request{Task: task})
	if err != nil {
		return nil, err
	}
	if err := reply.Err(); err != nil {
		return nil, err
	}
	return reply.Results, nil
}

func (c *Client) fetch(ctx context.Context, reply *service.Reply) (*service.Reply, error) {
	if c.store == nil {
		return nil, fmt.Errorf("reply %s was offloaded to %s but no blob store is configured", reply.ID, reply.Blob.URL)
	}
	data, err := c.store.Download(ctx, reply.Blob.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch offloaded reply %s: %w", reply.ID, err)
	}
	return decode(data)
}

func decode(data []byte) (*service.Reply, error) {
	var reply service.Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	return &reply, nil
}

// Stats returns current connection statistics.
func (c *Client) Stats() ConnectionStats {
	if c.conn == nil {
		return ConnectionStats{}
	}
	stats := c.conn.Stats()
	return ConnectionStats{
		InMsgs:     stats.InMsgs,
		OutMsgs:    stats.OutMsgs,
		InBytes:    stats.InBytes,
		OutBytes:   stats.OutBytes,
		Reconnects: stats.Reconnects,
	}
}

// ConnectionStats holds connection statistics for monitoring and debugging.
type ConnectionStats struct {
	InMsgs     uint64
	OutMsgs    uint64
	InBytes    uint64
	OutBytes   uint64
	Reconnects uint64
}
