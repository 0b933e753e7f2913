// Package timeseries is an append-only numeric series store for
// indicator/equity history, backed by Redis sorted sets keyed as
// "algo:ts:<metric>:<instrument>" with a retention hint.
package timeseries

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Aggregator reduces a bucket of points to a single value.
type Aggregator string

const (
	AggregatorLast Aggregator = "LAST"
	AggregatorAvg  Aggregator = "AVG"
	AggregatorMin  Aggregator = "MIN"
	AggregatorMax  Aggregator = "MAX"
)

// Point is one (timestamp, value) sample.
type Point struct {
	At    time.Time
	Value float64
}

// Store wraps a Redis client for append/range access to numeric series.
type Store struct {
	client    *redis.Client
	retention time.Duration
}

// Config configures the Redis connection and default retention.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Retention time.Duration // e.g. 7 * 24 * time.Hour
}

// New builds a Store and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("timeseries: failed to connect to redis: %w", err)
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Store{client: client, retention: retention}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.client.Close() }

func key(metric string, instrumentToken int64) string {
	return fmt.Sprintf("algo:ts:%s:%d", metric, instrumentToken)
}

// Append records one sample, scored by its Unix-nanosecond timestamp,
// and refreshes the key's retention TTL.
func (s *Store) Append(ctx context.Context, metric string, instrumentToken int64, at time.Time, value float64) error {
	k := key(metric, instrumentToken)
	member := fmt.Sprintf("%d:%s", at.UnixNano(), strconv.FormatFloat(value, 'g', -1, 64))

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixNano()), Member: member})
	pipe.Expire(ctx, k, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("timeseries: append %s: %w", k, err)
	}
	return nil
}

// Range returns every raw sample between from and to (inclusive),
// ordered oldest-first, then reduces them into fixed-size buckets of
// duration `bucket` using the given aggregator. A zero bucket returns
// the raw samples with no bucketing.
func (s *Store) Range(ctx context.Context, metric string, instrumentToken int64, from, to time.Time, aggregator Aggregator, bucket time.Duration) ([]Point, error) {
	k := key(metric, instrumentToken)
	raw, err := s.client.ZRangeByScore(ctx, k, &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixNano(), 10),
		Max: strconv.FormatInt(to.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("timeseries: range %s: %w", k, err)
	}

	points := make([]Point, 0, len(raw))
	for _, member := range raw {
		p, err := parseMember(member)
		if err != nil {
			return nil, fmt.Errorf("timeseries: parse member %q: %w", member, err)
		}
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].At.Before(points[j].At) })

	if bucket <= 0 {
		return points, nil
	}
	return bucketize(points, bucket, aggregator), nil
}

func parseMember(member string) (Point, error) {
	parts := strings.SplitN(member, ":", 2)
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("malformed member")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Point{}, err
	}
	value, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Point{}, err
	}
	return Point{At: time.Unix(0, nanos), Value: value}, nil
}

func bucketize(points []Point, bucket time.Duration, aggregator Aggregator) []Point {
	if len(points) == 0 {
		return nil
	}
	var out []Point
	bucketStart := points[0].At.Truncate(bucket)
	var values []float64

	flush := func() {
		if len(values) == 0 {
			return
		}
		out = append(out, Point{At: bucketStart, Value: reduce(values, aggregator)})
		values = values[:0]
	}

	for _, p := range points {
		start := p.At.Truncate(bucket)
		if start != bucketStart {
			flush()
			bucketStart = start
		}
		values = append(values, p.Value)
	}
	flush()
	return out
}

func reduce(values []float64, aggregator Aggregator) float64 {
	switch aggregator {
	case AggregatorAvg:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	case AggregatorMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	case AggregatorMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	default: // AggregatorLast
		return values[len(values)-1]
	}
}
