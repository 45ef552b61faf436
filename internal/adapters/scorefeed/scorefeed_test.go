package scorefeed_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/battlewager/internal/adapters/scorefeed"
	"github.com/alejandrodnm/battlewager/internal/domain"
)

func TestParseScores(t *testing.T) {
	cases := []struct {
		name    string
		vals    []interface{}
		want    domain.Scores
		wantErr bool
	}{
		{"both present", []interface{}{"700", "900"}, domain.Scores{A: 700, B: 900}, false},
		{"missing hash", []interface{}{nil, nil}, domain.Scores{}, false},
		{"one side only", []interface{}{"15", nil}, domain.Scores{A: 15}, false},
		{"garbage", []interface{}{"abc", "1"}, domain.Scores{}, true},
		{"wrong arity", []interface{}{"1"}, domain.Scores{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := scorefeed.ParseScores(tc.vals)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMemoryFeed(t *testing.T) {
	ctx := context.Background()
	f := scorefeed.NewMemoryFeed()

	require.NoError(t, f.Push(ctx, "b1", domain.SideA, 40))
	require.NoError(t, f.Push(ctx, "b1", domain.SideB, 10))
	require.NoError(t, f.Push(ctx, "b1", domain.SideA, 2))
	assert.Error(t, f.Push(ctx, "b1", "C", 1))

	s, err := f.Scores(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.Scores{A: 42, B: 10}, s)

	f.SetFailing(true)
	_, err = f.Scores(ctx, "b1")
	assert.ErrorIs(t, err, scorefeed.ErrFeedUnavailable)

	f.SetFailing(false)
	s, err = f.Scores(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, domain.Scores{}, s)
}

// fakeRedis implementa solo los comandos de hash que usa RedisFeed sobre un
// mapa en memoria. Cualquier otro comando entra al Cmdable nil y hace panic.
type fakeRedis struct {
	redis.Cmdable

	mu     sync.Mutex
	hashes map[string]map[string]int64
	keys   []string
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{hashes: make(map[string]map[string]int64)}
}

func (f *fakeRedis) HMGet(_ context.Context, key string, fields ...string) *redis.SliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.err != nil {
		return redis.NewSliceResult(nil, f.err)
	}
	vals := make([]interface{}, len(fields))
	h, ok := f.hashes[key]
	for i, field := range fields {
		if v, set := h[field]; ok && set {
			vals[i] = strconv.FormatInt(v, 10)
		}
	}
	return redis.NewSliceResult(vals, nil)
}

func (f *fakeRedis) HIncrBy(_ context.Context, key, field string, incr int64) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]int64)
	}
	f.hashes[key][field] += incr
	return redis.NewIntResult(f.hashes[key][field], nil)
}

func TestRedisFeed_PushAndScores(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	f := scorefeed.NewRedisFeedWithClient(client, "live")

	s, err := f.Scores(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.Scores{}, s, "hash inexistente = 0-0")

	require.NoError(t, f.Push(ctx, "b1", domain.SideA, 40))
	require.NoError(t, f.Push(ctx, "b1", domain.SideB, 10))
	require.NoError(t, f.Push(ctx, "b1", domain.SideA, 2))
	assert.ErrorIs(t, f.Push(ctx, "b1", "C", 1), domain.ErrInvalidSide)

	s, err = f.Scores(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.Scores{A: 42, B: 10}, s)
	assert.Equal(t, map[string]int64{"a": 42, "b": 10}, client.hashes["live:b1"])

	for _, k := range client.keys {
		assert.Equal(t, "live:b1", k)
	}
	assert.Len(t, client.keys, 5, "el lado inválido no llega a Redis")
}

func TestRedisFeed_DefaultPrefix(t *testing.T) {
	client := newFakeRedis()
	f := scorefeed.NewRedisFeedWithClient(client, "")

	require.NoError(t, f.Push(context.Background(), "b9", domain.SideB, 3))
	assert.Equal(t, []string{"battle:scores:b9"}, client.keys)
}

func TestRedisFeed_ClientErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	f := scorefeed.NewRedisFeedWithClient(client, "live")

	_, err := f.Scores(ctx, "b1")
	assert.ErrorContains(t, err, "connection refused")
	assert.ErrorContains(t, f.Push(ctx, "b1", domain.SideA, 1), "connection refused")
	assert.NoError(t, f.Close(), "feed sin conexión propia no cierra nada")
}
