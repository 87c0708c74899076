// Package server exposes a DocumentStore over the line protocol spoken by
// sdk.Client: one command per line, one reply per line.
//
//	LIST <collection> [filters-json]      -> OK [documents-json]
//	GET <collection> <id>                 -> OK <document-json>
//	INSERT <collection> <data-json>       -> OK {"id":"..."}
//	INSERT_AT <collection> <id> <json>    -> OK
//	MERGE <collection> <id> <json>        -> OK
//	REMOVE <collection> <id>              -> OK
//	COLLECTIONS                           -> OK ["..."]
//	PING                                  -> PONG
//	QUIT                                  closes the connection
//
// Failures reply "ERR <code> <message>" with the codes of sdk.ErrorCode.
package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/celerix-dev/agricare/internal/metrics"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

const (
	defaultMaxConns = 100
	idleTimeout     = 30 * time.Second
	connLifetime    = 5 * time.Minute
	commandTimeout  = 30 * time.Second
)

type Router struct {
	store    sdk.DocumentStore
	cert     *tls.Certificate
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	maxConns int

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopped  bool
}

// RouterOption configures a Router.
type RouterOption func(*Router)

func WithLogger(l *zap.SugaredLogger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithMaxConnections bounds how many connections are served at once.
func WithMaxConnections(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxConns = n
		}
	}
}

func NewRouter(s sdk.DocumentStore, opts ...RouterOption) *Router {
	r := &Router{
		store:    s,
		logger:   zap.NewNop().Sugar(),
		metrics:  metrics.Nop(),
		maxConns: defaultMaxConns,
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Addr returns the listening address, or nil before Listen has bound.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Listen starts the TCP server and blocks until Stop is called.
func (r *Router) Listen(port string) error {
	var listener net.Listener
	var err error

	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}, MinVersion: tls.VersionTLS12}
		listener, err = tls.Listen("tcp", ":"+port, config)
	} else {
		listener, err = net.Listen("tcp", ":"+port)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		listener.Close()
		return nil
	}
	r.listener = listener
	r.mu.Unlock()

	semaphore := make(chan struct{}, r.maxConns)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warnw("accept failed", "error", err)
			continue
		}

		// Bound the lifetime of every connection so idle clients cannot pin slots.
		conn.SetDeadline(time.Now().Add(connLifetime))

		if !r.track(conn) {
			conn.Close()
			return nil
		}

		go func(c net.Conn) {
			semaphore <- struct{}{}
			defer func() {
				<-semaphore
				r.untrack(c)
				c.Close()
			}()
			r.HandleConnection(c)
		}(conn)
	}
}

// Stop closes the listener and every open client connection.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	for c := range r.conns {
		c.Close()
	}
	clear(r.conns)

	if r.listener == nil {
		return nil
	}
	err := r.listener.Close()
	r.listener = nil
	return err
}

func (r *Router) track(c net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.conns[c] = struct{}{}
	return true
}

func (r *Router) untrack(c net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

// HandleConnection serves commands from conn until QUIT, EOF or an idle timeout.
func (r *Router) HandleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)

	for {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))

		line, err := reader.ReadString('\n')
		if err != nil {
			return // Connection closed or timeout
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		command, _, _ := strings.Cut(line, " ")
		command = strings.ToUpper(command)
		if command == "QUIT" {
			return
		}

		reply := r.dispatch(command, line)
		if _, err := fmt.Fprintln(conn, reply); err != nil {
			return
		}
	}
}

// dispatch executes one command line and returns the reply line.
func (r *Router) dispatch(command, line string) string {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var (
		payload any
		err     error
	)

	switch command {
	case "PING":
		r.observe(command, nil)
		return "PONG"

	case "LIST":
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 {
			err = usage("LIST <collection> [filters]")
			break
		}
		var filters []sdk.Filter
		if len(parts) == 3 {
			if jsonErr := json.Unmarshal([]byte(parts[2]), &filters); jsonErr != nil {
				err = fmt.Errorf("%w: invalid filters: %v", sdk.ErrInvalidArgument, jsonErr)
				break
			}
		}
		docs, listErr := r.store.List(ctx, parts[1], filters...)
		if docs == nil {
			docs = []sdk.Document{}
		}
		payload, err = docs, listErr

	case "GET":
		parts := strings.Fields(line)
		if len(parts) != 3 {
			err = usage("GET <collection> <id>")
			break
		}
		payload, err = r.store.Get(ctx, parts[1], parts[2])

	case "INSERT":
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 3 {
			err = usage("INSERT <collection> <json>")
			break
		}
		data, decodeErr := decodeBody(parts[2])
		if decodeErr != nil {
			err = decodeErr
			break
		}
		id, insertErr := r.store.Insert(ctx, parts[1], data)
		payload, err = map[string]string{"id": id}, insertErr

	case "INSERT_AT", "MERGE":
		parts := strings.SplitN(line, " ", 4)
		if len(parts) < 4 {
			err = usage(command + " <collection> <id> <json>")
			break
		}
		data, decodeErr := decodeBody(parts[3])
		if decodeErr != nil {
			err = decodeErr
			break
		}
		if command == "MERGE" {
			err = r.store.Merge(ctx, parts[1], parts[2], data)
		} else {
			err = r.store.InsertAt(ctx, parts[1], parts[2], data)
		}

	case "REMOVE":
		parts := strings.Fields(line)
		if len(parts) != 3 {
			err = usage("REMOVE <collection> <id>")
			break
		}
		err = r.store.Remove(ctx, parts[1], parts[2])

	case "COLLECTIONS":
		list, listErr := r.store.Collections(ctx)
		if list == nil {
			list = []string{}
		}
		payload, err = list, listErr

	default:
		r.observe("UNKNOWN", sdk.ErrInvalidArgument)
		return fmt.Sprintf("ERR %s unknown command %q", sdk.CodeInvalid, command)
	}

	r.observe(command, err)
	if err != nil {
		return errorReply(err)
	}
	if payload == nil {
		return "OK"
	}
	res, err := json.Marshal(payload)
	if err != nil {
		r.logger.Errorw("encode reply failed", "command", command, "error", err)
		return fmt.Sprintf("ERR %s internal error", sdk.CodeInternal)
	}
	return "OK " + string(res)
}

func (r *Router) observe(command string, err error) {
	reply := "ok"
	if err != nil {
		reply = sdk.ErrorCode(err)
	}
	r.metrics.TCPCommands.WithLabelValues(command, reply).Inc()
}

func usage(form string) error {
	return fmt.Errorf("%w: usage: %s", sdk.ErrInvalidArgument, form)
}

func decodeBody(raw string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("%w: invalid json body: %v", sdk.ErrInvalidArgument, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// errorReply renders err on a single line.
func errorReply(err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	return fmt.Sprintf("ERR %s %s", sdk.ErrorCode(err), msg)
}
