// Package kv is a Redis-backed key-value store for positions and
// orders: the hot, frequently-overwritten state the router and
// reconciliation service need without round-tripping the relational
// audit store.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ironcondor/internal/domain"
)

// ErrNoData is returned when a lookup finds no cached value.
var ErrNoData = errors.New("kv: no data available")

const (
	positionKeyPrefix = "algo:position:"
	orderKeyPrefix    = "algo:order:"
	positionSetKey    = "algo:positions"
	pendingOrderSet   = "algo:orders:pending"
)

// Store wraps a Redis client with the position/order access patterns
// the router and reconciliation service need.
type Store struct {
	client *redis.Client
}

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New builds a Store and verifies connectivity with a bounded ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("kv: failed to connect to redis: %w", err)
	}
	return &Store{client: client}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.client.Close() }

// SavePosition upserts a position keyed by instrument token and tracks
// it in the positions set for FindAllPositions.
func (s *Store) SavePosition(ctx context.Context, p domain.Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("kv: marshal position: %w", err)
	}
	key := fmt.Sprintf("%s%d", positionKeyPrefix, p.InstrumentToken)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, positionSetKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kv: save position: %w", err)
	}
	return nil
}

// DeletePosition removes a position by instrument token.
func (s *Store) DeletePosition(ctx context.Context, instrumentToken int64) error {
	key := fmt.Sprintf("%s%d", positionKeyPrefix, instrumentToken)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, positionSetKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kv: delete position: %w", err)
	}
	return nil
}

// FindAllPositions returns every cached position.
func (s *Store) FindAllPositions(ctx context.Context) ([]domain.Position, error) {
	keys, err := s.client.SMembers(ctx, positionSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: list position keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: mget positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var p domain.Position
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("kv: unmarshal position %s: %w", keys[i], err)
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// SaveOrder persists an order and, while it is not yet terminal, tracks
// it in the pending-orders set.
func (s *Store) SaveOrder(ctx context.Context, order domain.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("kv: marshal order: %w", err)
	}
	key := orderKeyPrefix + order.BrokerOrderID

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	if isPending(order.Status) {
		pipe.SAdd(ctx, pendingOrderSet, key)
	} else {
		pipe.SRem(ctx, pendingOrderSet, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kv: save order: %w", err)
	}
	return nil
}

// DeleteOrder removes an order by broker order id.
func (s *Store) DeleteOrder(ctx context.Context, brokerOrderID string) error {
	key := orderKeyPrefix + brokerOrderID
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, pendingOrderSet, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kv: delete order: %w", err)
	}
	return nil
}

// FindPending returns every order currently tracked as pending.
func (s *Store) FindPending(ctx context.Context) ([]domain.Order, error) {
	keys, err := s.client.SMembers(ctx, pendingOrderSet).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: list pending order keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: mget pending orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var o domain.Order
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("kv: unmarshal order %s: %w", keys[i], err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// CountPending reports the number of orders currently tracked as pending
// without fetching their bodies.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, pendingOrderSet).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: count pending orders: %w", err)
	}
	return n, nil
}

func isPending(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderOpen, domain.OrderPartiallyFilled:
		return true
	default:
		return false
	}
}
