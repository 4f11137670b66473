package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrConnection is returned when a server cannot be reached or authenticated
	ErrConnection = errors.New("connection failed")
	// ErrExecution is returned when a command could not be run on an open connection
	ErrExecution = errors.New("execution failed")
	// ErrUnknownServer is returned for servers without a configured endpoint
	ErrUnknownServer = errors.New("unknown server")
	// ErrUnavailable is returned for configured servers that are not connected
	ErrUnavailable = errors.New("server unavailable")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("pool closed")
)

// Endpoint describes how to reach one server
type Endpoint struct {
	Server         string
	Host           string
	Port           int
	User           string
	KeyFile        string
	KnownHostsFile string // Empty accepts any host key
	Timeout        time.Duration
}

// Output is the result of a remote command. A non-zero exit status is not an error.
type Output struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Conn is a live session to one server
type Conn interface {
	// Run executes command and returns its output. An error means the transport failed;
	// command failures are reported through Output.ExitStatus.
	Run(command string) (Output, error)
	Close() error
}

// Dialer opens connections
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// handle is the pooled connection state for one server
type handle struct {
	endpoint Endpoint
	slots    chan struct{} // bounds concurrent commands on this server

	mu        sync.Mutex
	conn      Conn
	available bool
}

// Pool owns one connection per configured server
type Pool struct {
	dialer      Dialer
	logger      *slog.Logger
	maxSessions int

	order   []string
	handles map[string]*handle

	closeMu sync.RWMutex
	closed  bool
}

// Option configures a Pool
type Option func(*Pool)

// WithLogger sets the pool logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMaxSessions sets how many commands may run concurrently on one server (default 1)
func WithMaxSessions(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxSessions = n
		}
	}
}

// New creates a pool. Endpoints without a host are skipped: those servers are unconfigured.
func New(dialer Dialer, endpoints []Endpoint, opts ...Option) *Pool {
	p := &Pool{
		dialer:      dialer,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxSessions: 1,
		handles:     make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, ep := range endpoints {
		if ep.Host == "" || ep.Server == "" {
			continue
		}
		if _, dup := p.handles[ep.Server]; dup {
			continue
		}
		p.order = append(p.order, ep.Server)
		p.handles[ep.Server] = &handle{
			endpoint: ep,
			slots:    make(chan struct{}, p.maxSessions),
		}
	}

	return p
}

// ConnectAll connects every configured server and returns the failures by server.
// Failures are not fatal: the remaining servers stay usable.
func (p *Pool) ConnectAll(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, server := range p.order {
		if err := p.Connect(ctx, server); err != nil {
			failures[server] = err
		}
	}
	return failures
}

// Connect (re)connects a single server
func (p *Pool) Connect(ctx context.Context, server string) error {
	h, err := p.lookup(server)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		return nil
	}
	return p.dialLocked(ctx, h)
}

// dialLocked dials h. Caller holds h.mu.
func (p *Pool) dialLocked(ctx context.Context, h *handle) error {
	start := time.Now()
	conn, err := p.dialer.Dial(ctx, h.endpoint)
	if err != nil {
		h.available = false
		p.logger.Error("connect failed",
			"server", h.endpoint.Server,
			"host", h.endpoint.Host,
			"err", err,
		)
		return fmt.Errorf("%w: %s: %v", ErrConnection, h.endpoint.Server, err)
	}
	h.conn = conn
	h.available = true
	p.logger.Info("connected",
		"server", h.endpoint.Server,
		"host", h.endpoint.Host,
		"duration", time.Since(start),
	)
	return nil
}

// Servers returns the available servers in configuration order
func (p *Pool) Servers() []string {
	out := make([]string, 0, len(p.order))
	for _, server := range p.order {
		if p.Available(server) {
			out = append(out, server)
		}
	}
	return out
}

// Configured returns all servers that have an endpoint, in configuration order
func (p *Pool) Configured() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// IsConfigured reports whether server has an endpoint
func (p *Pool) IsConfigured(server string) bool {
	_, ok := p.handles[server]
	return ok
}

// Available reports whether server is connected
func (p *Pool) Available(server string) bool {
	h, ok := p.handles[server]
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available
}

// Exec runs command on server. Commands on one server are limited to the configured
// number of sessions and queue behind each other. If ctx ends while the command runs the
// caller gets ctx.Err(); the command itself still runs to completion.
func (p *Pool) Exec(ctx context.Context, server, command string) (Output, error) {
	h, err := p.lookup(server)
	if err != nil {
		return Output{}, err
	}
	if !p.Available(server) {
		return Output{}, fmt.Errorf("%w: %s", ErrUnavailable, server)
	}

	select {
	case h.slots <- struct{}{}:
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}

	type result struct {
		out Output
		err error
	}
	done := make(chan result, 1)
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() { <-h.slots }()
		out, err := p.run(runCtx, h, command)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
}

// run executes command, reconnecting once if the transport failed
func (p *Pool) run(ctx context.Context, h *handle, command string) (Output, error) {
	conn, err := p.current(ctx, h, nil)
	if err != nil {
		return Output{}, err
	}

	out, err := conn.Run(command)
	if err == nil {
		return out, nil
	}

	p.logger.Warn("command transport failed, reconnecting",
		"server", h.endpoint.Server,
		"err", err,
	)
	conn, rerr := p.current(ctx, h, conn)
	if rerr != nil {
		return Output{}, fmt.Errorf("%w: %s: %v", ErrExecution, h.endpoint.Server, rerr)
	}
	out, err = conn.Run(command)
	if err != nil {
		return Output{}, fmt.Errorf("%w: %s: %v", ErrExecution, h.endpoint.Server, err)
	}
	return out, nil
}

// current returns the live connection. When stale is the live connection it is closed and
// replaced by a fresh dial.
func (p *Pool) current(ctx context.Context, h *handle, stale Conn) (Conn, error) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if stale != nil && h.conn == stale {
		_ = h.conn.Close()
		h.conn = nil
	}
	if h.conn == nil {
		if err := p.dialLocked(ctx, h); err != nil {
			return nil, err
		}
	}
	return h.conn, nil
}

func (p *Pool) lookup(server string) (*handle, error) {
	h, ok := p.handles[server]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
	return h, nil
}

// Close releases every connection. Handles that never connected are skipped.
func (p *Pool) Close() error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	p.closeMu.Unlock()

	var errs []error
	for _, server := range p.order {
		h := p.handles[server]
		h.mu.Lock()
		if h.conn != nil {
			if err := h.conn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", server, err))
			}
			h.conn = nil
		}
		h.available = false
		h.mu.Unlock()
	}
	return errors.Join(errs...)
}
