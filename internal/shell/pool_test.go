package shell

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records commands and answers from a script
type fakeConn struct {
	mu       sync.Mutex
	commands []string
	run      func(command string) (Output, error)
	closed   atomic.Bool
	running  atomic.Int32
	maxSeen  atomic.Int32
}

func (c *fakeConn) Run(command string) (Output, error) {
	n := c.running.Add(1)
	defer c.running.Add(-1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	c.mu.Lock()
	c.commands = append(c.commands, command)
	c.mu.Unlock()

	if c.run != nil {
		return c.run(command)
	}
	return Output{Stdout: "ok:" + command}, nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

// fakeDialer hands out connections per server
type fakeDialer struct {
	mu      sync.Mutex
	dials   map[string]int
	fail    map[string]error
	newConn func(server string) *fakeConn
	conns   map[string][]*fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		dials: make(map[string]int),
		fail:  make(map[string]error),
		conns: make(map[string][]*fakeConn),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[ep.Server]++
	if err := d.fail[ep.Server]; err != nil {
		return nil, err
	}
	c := &fakeConn{}
	if d.newConn != nil {
		c = d.newConn(ep.Server)
	}
	d.conns[ep.Server] = append(d.conns[ep.Server], c)
	return c, nil
}

func (d *fakeDialer) dialCount(server string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[server]
}

func endpoints() []Endpoint {
	return []Endpoint{
		{Server: "core", Host: "10.0.0.1"},
		{Server: "edge", Host: "10.0.0.2"},
		{Server: "erp", Host: ""}, // unconfigured
	}
}

func TestNewSkipsUnconfigured(t *testing.T) {
	p := New(newFakeDialer(), endpoints())

	assert.Equal(t, []string{"core", "edge"}, p.Configured())
	assert.True(t, p.IsConfigured("core"))
	assert.False(t, p.IsConfigured("erp"))
	assert.Empty(t, p.Servers(), "nothing is available before connecting")
}

func TestConnectAllPartialFailure(t *testing.T) {
	d := newFakeDialer()
	d.fail["edge"] = errors.New("auth refused")
	p := New(d, endpoints())

	failures := p.ConnectAll(context.Background())

	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures["edge"], ErrConnection))
	assert.Equal(t, []string{"core"}, p.Servers())
	assert.False(t, p.Available("edge"))
	assert.Zero(t, d.dialCount("erp"))

	_, err := p.Exec(context.Background(), "edge", "true")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestExecUnknownServer(t *testing.T) {
	p := New(newFakeDialer(), endpoints())
	_, err := p.Exec(context.Background(), "erp", "cat /etc/hosts")
	assert.True(t, errors.Is(err, ErrUnknownServer))
}

func TestExecReturnsOutput(t *testing.T) {
	d := newFakeDialer()
	d.newConn = func(string) *fakeConn {
		return &fakeConn{run: func(cmd string) (Output, error) {
			return Output{Stdout: "partial", Stderr: "Permission denied", ExitStatus: 1}, nil
		}}
	}
	p := New(d, endpoints())
	p.ConnectAll(context.Background())

	out, err := p.Exec(context.Background(), "core", "find / -type f")
	require.NoError(t, err, "non-zero exit is not an error")
	assert.Equal(t, "partial", out.Stdout)
	assert.Equal(t, 1, out.ExitStatus)
}

func TestExecSerializesPerServer(t *testing.T) {
	d := newFakeDialer()
	d.newConn = func(string) *fakeConn {
		return &fakeConn{run: func(cmd string) (Output, error) {
			time.Sleep(5 * time.Millisecond)
			return Output{Stdout: cmd}, nil
		}}
	}
	p := New(d, endpoints())
	p.ConnectAll(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Exec(context.Background(), "core", "uptime")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	conn := d.conns["core"][0]
	assert.Len(t, conn.commands, 8)
	assert.Equal(t, int32(1), conn.maxSeen.Load(), "commands on one server must not overlap")
}

func TestExecMaxSessions(t *testing.T) {
	d := newFakeDialer()
	d.newConn = func(string) *fakeConn {
		return &fakeConn{run: func(cmd string) (Output, error) {
			time.Sleep(20 * time.Millisecond)
			return Output{}, nil
		}}
	}
	p := New(d, endpoints(), WithMaxSessions(2))
	p.ConnectAll(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Exec(context.Background(), "core", "sleep")
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, d.conns["core"][0].maxSeen.Load(), int32(2))
}

func TestExecReconnectsOnTransportFailure(t *testing.T) {
	d := newFakeDialer()
	var calls atomic.Int32
	d.newConn = func(string) *fakeConn {
		return &fakeConn{run: func(cmd string) (Output, error) {
			if calls.Add(1) == 1 {
				return Output{}, errors.New("broken pipe")
			}
			return Output{Stdout: "recovered"}, nil
		}}
	}
	p := New(d, endpoints())
	p.ConnectAll(context.Background())

	out, err := p.Exec(context.Background(), "core", "cat /etc/hostname")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out.Stdout)
	assert.Equal(t, 2, d.dialCount("core"))
	assert.True(t, d.conns["core"][0].closed.Load(), "stale connection is closed")
}

func TestExecReconnectFailureMarksUnavailable(t *testing.T) {
	d := newFakeDialer()
	d.newConn = func(string) *fakeConn {
		return &fakeConn{run: func(cmd string) (Output, error) {
			return Output{}, errors.New("connection reset")
		}}
	}
	p := New(d, endpoints())
	p.ConnectAll(context.Background())

	d.mu.Lock()
	d.fail["core"] = errors.New("host down")
	d.mu.Unlock()

	_, err := p.Exec(context.Background(), "core", "true")
	assert.True(t, errors.Is(err, ErrExecution))
	assert.False(t, p.Available("core"))
	assert.Equal(t, []string{"edge"}, p.Servers())
}

func TestExecContextAbandonsWait(t *testing.T) {
	release := make(chan struct{})
	d := newFakeDialer()
	d.newConn = func(string) *fakeConn {
		return &fakeConn{run: func(cmd string) (Output, error) {
			<-release
			return Output{Stdout: "late"}, nil
		}}
	}
	p := New(d, endpoints())
	p.ConnectAll(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Exec(ctx, "core", "sleep 100")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// The abandoned command still holds the session until it finishes
	close(release)
	out, err := p.Exec(context.Background(), "core", "echo")
	require.NoError(t, err)
	assert.Equal(t, "late", out.Stdout)
}

func TestCloseIsSafe(t *testing.T) {
	d := newFakeDialer()
	d.fail["edge"] = errors.New("down")
	p := New(d, endpoints())
	p.ConnectAll(context.Background())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, d.conns["core"][0].closed.Load())
	assert.Empty(t, p.Servers())

	// Never-connected pool
	require.NoError(t, New(newFakeDialer(), endpoints()).Close())
}
