// Package scorefeed contiene los adapters del Score Feed: la fuente externa
// de los puntajes en vivo de cada creador.
package scorefeed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alejandrodnm/battlewager/internal/domain"
)

const (
	fieldA = "a"
	fieldB = "b"

	defaultPrefix = "battle:scores"
)

// RedisConfig configura la conexión del feed.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	PoolSize int
}

// RedisFeed lee los puntajes de un hash por batalla: <prefix>:<battleID>
// con campos "a" y "b". El pusher externo los incrementa con HINCRBY.
type RedisFeed struct {
	client redis.Cmdable
	closer func() error
	prefix string
}

// NewRedisFeed abre la conexión y verifica que Redis responde.
func NewRedisFeed(ctx context.Context, cfg RedisConfig) (*RedisFeed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("scorefeed.NewRedisFeed: ping %s: %w", cfg.Addr, err)
	}

	feed := NewRedisFeedWithClient(client, cfg.Prefix)
	feed.closer = client.Close
	return feed, nil
}

// NewRedisFeedWithClient usa un cliente ya construido (cluster, ring, tests).
func NewRedisFeedWithClient(client redis.Cmdable, prefix string) *RedisFeed {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisFeed{client: client, prefix: prefix}
}

// Scores implementa ports.ScoreFeed. Un hash inexistente son puntajes en cero.
func (f *RedisFeed) Scores(ctx context.Context, battleID string) (domain.Scores, error) {
	vals, err := f.client.HMGet(ctx, f.key(battleID), fieldA, fieldB).Result()
	if err != nil {
		return domain.Scores{}, fmt.Errorf("scorefeed.Scores %s: %w", battleID, err)
	}
	scores, err := ParseScores(vals)
	if err != nil {
		return domain.Scores{}, fmt.Errorf("scorefeed.Scores %s: %w", battleID, err)
	}
	return scores, nil
}

// Push suma delta al puntaje del lado dado.
func (f *RedisFeed) Push(ctx context.Context, battleID string, side domain.Side, delta int64) error {
	field, err := sideField(side)
	if err != nil {
		return fmt.Errorf("scorefeed.Push: %w", err)
	}
	if err := f.client.HIncrBy(ctx, f.key(battleID), field, delta).Err(); err != nil {
		return fmt.Errorf("scorefeed.Push %s: %w", battleID, err)
	}
	return nil
}

// Close cierra la conexión si el feed la abrió.
func (f *RedisFeed) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer()
}

func (f *RedisFeed) key(battleID string) string {
	return f.prefix + ":" + battleID
}

// ParseScores convierte la respuesta de HMGET a, b. Campos ausentes valen 0.
func ParseScores(vals []interface{}) (domain.Scores, error) {
	if len(vals) != 2 {
		return domain.Scores{}, fmt.Errorf("expected 2 fields, got %d", len(vals))
	}
	a, err := parseField(vals[0])
	if err != nil {
		return domain.Scores{}, fmt.Errorf("field %s: %w", fieldA, err)
	}
	b, err := parseField(vals[1])
	if err != nil {
		return domain.Scores{}, fmt.Errorf("field %s: %w", fieldB, err)
	}
	return domain.Scores{A: a, B: b}, nil
}

func parseField(v interface{}) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	case int64:
		return t, nil
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}

func sideField(side domain.Side) (string, error) {
	switch side {
	case domain.SideA:
		return fieldA, nil
	case domain.SideB:
		return fieldB, nil
	}
	return "", fmt.Errorf("side %q: %w", side, domain.ErrInvalidSide)
}
