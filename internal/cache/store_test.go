package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("mysql://nope")
	assert.Error(t, err)
}

func TestNewDoesNotConnect(t *testing.T) {
	s, err := New("redis://127.0.0.1:1")
	require.NoError(t, err)
	require.NoError(t, s.Close(), "close before any connection")
}

func TestSetGet(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "file:core:/etc/x.conf")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "file:core:/etc/x.conf", []byte("listen 80"), time.Minute))

	val, ok, err := s.Get(ctx, "file:core:/etc/x.conf")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "listen 80", string(val))
}

func TestEntriesExpire(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 300*time.Second))
	mr.FastForward(299 * time.Second)
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeysByPrefix(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	for _, k := range []string{"file:core:/a", "file:edge:/b", "idx:category:env"} {
		require.NoError(t, s.Set(ctx, k, []byte("x"), time.Minute))
	}

	keys, err := s.Keys(ctx, "file:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"file:core:/a", "file:edge:/b"}, keys)
}

func TestSets(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddToSet(ctx, "idx:category:env", "core:/opt/.env", "edge:/srv/.env"))
	require.NoError(t, s.AddToSet(ctx, "idx:category:env", "core:/opt/.env"))
	require.NoError(t, s.AddToSet(ctx, "idx:category:env"))

	members, err := s.Members(ctx, "idx:category:env")
	require.NoError(t, err)
	sort.Strings(members)
	assert.Equal(t, []string{"core:/opt/.env", "edge:/srv/.env"}, members)

	members, err = s.Members(ctx, "idx:category:none")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestUnavailable(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	mr.SetError("LOADING dataset in memory")
	_, _, err := s.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrUnavailable))

	mr.SetError("")
	_, _, err = s.Get(ctx, "k")
	assert.NoError(t, err, "store recovers once the server answers again")
}

func TestReconnectAfterRestart(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))

	mr.Close()
	require.NoError(t, mr.Restart())

	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(val))
}

func TestFirstUseDoesNotProbeTwice(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	url := "redis://" + mr.Addr()

	// Connection setup commands (HELLO and friends) depend on the client version
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	raw := redis.NewClient(opts)
	defer func() { _ = raw.Close() }()
	before := mr.CommandCount()
	require.NoError(t, raw.Ping(ctx).Err())
	handshake := mr.CommandCount() - before - 1

	s, err := New(url)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	before = mr.CommandCount()
	_, _, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, handshake+2, mr.CommandCount()-before, "connect ping and GET")

	before = mr.CommandCount()
	_, _, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 2, mr.CommandCount()-before, "probe ping and GET")
}

func TestNeverReachable(t *testing.T) {
	s, err := New("redis://127.0.0.1:1", WithDialTimeout(100*time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	err = s.Ping(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestConcurrentFirstUse(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
		}()
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NotNil(t, s.client)
}

func TestClosed(t *testing.T) {
	s, _ := setupStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err := s.Get(context.Background(), "k")
	assert.True(t, errors.Is(err, ErrClosed))
}
