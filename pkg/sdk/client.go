// Package sdk provides the document database contract shared by the AgriCare
// engines, plus the client-side library for talking to a remote daemon over
// TCP/TLS.
package sdk

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxAttempts      = 3
	operationTimeout = 30 * time.Second
)

// Client is a remote client for the AgriCare store daemon.
// It implements the DocumentStore interface.
type Client struct {
	addr       string
	disableTLS bool
	logger     *zap.SugaredLogger

	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex // Protects concurrent access to the connection
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPlainTCP disables TLS regardless of the environment.
func WithPlainTCP() ClientOption {
	return func(c *Client) { c.disableTLS = true }
}

// WithClientLogger sets the logger used to report reconnects.
func WithClientLogger(l *zap.SugaredLogger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Connect establishes a TLS-encrypted connection to a remote store daemon.
// If AGRICARE_DISABLE_TLS is set to "true", it falls back to plain TCP.
func Connect(addr string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		addr:       addr,
		disableTLS: os.Getenv("AGRICARE_DISABLE_TLS") == "true",
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.reconnect(); err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrUnavailable, addr, err)
	}
	return c, nil
}

func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}

	var conn net.Conn
	var err error
	if c.disableTLS {
		conn, err = dialer.Dial("tcp", c.addr)
	} else {
		config := &tls.Config{
			InsecureSkipVerify: true, // the daemon uses a self-signed certificate
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, config)
	}
	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// sendAndReceive writes one command line and returns the payload of the OK
// reply. Transport failures are retried with a fresh connection; ERR replies
// are returned as *ProtocolError without retrying.
func (c *Client) sendAndReceive(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for i := 0; i < maxAttempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		if c.conn == nil {
			if reconnectErr := c.reconnect(); reconnectErr != nil {
				err = fmt.Errorf("reconnect failed: %w", reconnectErr)
				time.Sleep(time.Duration(i*100) * time.Millisecond)
				continue
			}
		}

		deadline := time.Now().Add(operationTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		c.conn.SetDeadline(deadline)

		var resp string
		_, err = fmt.Fprint(c.conn, cmd+"\n")
		if err == nil {
			resp, err = c.reader.ReadString('\n')
			if err == nil {
				resp = strings.TrimSpace(resp)
				if strings.HasPrefix(resp, "ERR") {
					return "", parseErrorReply(resp)
				}
				if resp == "OK" {
					return "", nil
				}
				return strings.TrimPrefix(resp, "OK "), nil
			}
		}

		c.logger.Warnw("store request failed, reconnecting", "attempt", i+1, "error", err)
		if reconnectErr := c.reconnect(); reconnectErr != nil {
			c.logger.Warnw("reconnect attempt failed", "error", reconnectErr)
		}

		time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
	}

	return "", fmt.Errorf("%w: failed after %d attempts: %v", ErrUnavailable, maxAttempts, err)
}

func (c *Client) List(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	cmd := "LIST " + collection
	if len(filters) > 0 {
		wire := make([]Filter, len(filters))
		for i, f := range filters {
			f.Value = NormalizeValue(f.Value)
			wire[i] = f
		}
		raw, err := json.Marshal(wire)
		if err != nil {
			return nil, fmt.Errorf("%w: encode filters: %v", ErrInvalidArgument, err)
		}
		cmd += " " + string(raw)
	}

	resp, err := c.sendAndReceive(ctx, cmd)
	if err != nil {
		return nil, err
	}
	var docs []Document
	if err := json.Unmarshal([]byte(resp), &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *Client) Get(ctx context.Context, collection, id string) (Document, error) {
	resp, err := c.sendAndReceive(ctx, fmt.Sprintf("GET %s %s", collection, id))
	if err != nil {
		return Document{}, err
	}
	var doc Document
	err = json.Unmarshal([]byte(resp), &doc)
	return doc, err
}

// Insert picks the document id on the client and writes with INSERT_AT, so a
// retry after a lost reply overwrites the same document instead of adding one.
func (c *Client) Insert(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	if err := c.InsertAt(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Client) InsertAt(ctx context.Context, collection, id string, data map[string]any) error {
	raw, err := encodeBody(data)
	if err != nil {
		return err
	}
	_, err = c.sendAndReceive(ctx, fmt.Sprintf("INSERT_AT %s %s %s", collection, id, raw))
	return err
}

func (c *Client) Merge(ctx context.Context, collection, id string, partial map[string]any) error {
	raw, err := encodeBody(partial)
	if err != nil {
		return err
	}
	_, err = c.sendAndReceive(ctx, fmt.Sprintf("MERGE %s %s %s", collection, id, raw))
	return err
}

func (c *Client) Remove(ctx context.Context, collection, id string) error {
	_, err := c.sendAndReceive(ctx, fmt.Sprintf("REMOVE %s %s", collection, id))
	return err
}

func (c *Client) Collections(ctx context.Context) ([]string, error) {
	resp, err := c.sendAndReceive(ctx, "COLLECTIONS")
	if err != nil {
		return nil, err
	}
	var list []string
	err = json.Unmarshal([]byte(resp), &list)
	return list, err
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.sendAndReceive(ctx, "PING")
	if err != nil {
		return err
	}
	if resp != "PONG" {
		return fmt.Errorf("%w: unexpected ping reply %q", ErrUnavailable, resp)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	fmt.Fprintln(c.conn, "QUIT")
	err := c.conn.Close()
	c.conn = nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// encodeBody marshals a document body onto a single protocol line.
func encodeBody(data map[string]any) (string, error) {
	body := make(map[string]any, len(data))
	for k, v := range data {
		body[k] = NormalizeValue(v)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: encode document: %v", ErrInvalidArgument, err)
	}
	return string(raw), nil
}
