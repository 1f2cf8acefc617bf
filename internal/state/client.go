// Package state wraps the shared Redis instance holding online feature
// state, decision side signals and watchlists. Every operation carries
// a short deadline and bounded retries; callers that still get an
// error degrade to documented defaults instead of dropping the event.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fraudops/decisioning/configs"
	"github.com/fraudops/decisioning/internal/retry"
)

const retryAttempts = 3

type Client struct {
	client    *redis.Client
	opTimeout time.Duration
	retryBase time.Duration
}

func NewClient(cfg configs.RedisConfig, opTimeout time.Duration) (*Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		client:    client,
		opTimeout: opTimeout,
		retryBase: 10 * time.Millisecond,
	}, nil
}

// NewClientFromRedis wires an existing go-redis client, used by tests.
func NewClientFromRedis(client *redis.Client, opTimeout time.Duration) *Client {
	return &Client{
		client:    client,
		opTimeout: opTimeout,
		retryBase: time.Millisecond,
	}
}

func (c *Client) do(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, retryAttempts, c.retryBase, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		defer cancel()
		return op(opCtx)
	})
}

// VelocityCounts reads the per-window event counters for an entity.
// Missing counters read as zero. Callers read before BumpVelocity so
// the vector for an event never counts the event itself.
func (c *Client) VelocityCounts(ctx context.Context, entityID string) (map[string]int64, error) {
	keys := make([]string, len(VelocityWindows))
	for i, w := range VelocityWindows {
		keys[i] = VelocityKey(entityID, w.Name)
	}

	var vals []interface{}
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		vals, err = c.client.MGet(ctx, keys...).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read velocity counters: %w", err)
	}

	counts := make(map[string]int64, len(VelocityWindows))
	for i, w := range VelocityWindows {
		counts[w.Name] = 0
		if s, ok := vals[i].(string); ok {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				counts[w.Name] = n
			}
		}
	}
	return counts, nil
}

// BumpVelocity increments every window counter for the entity and
// refreshes each counter's TTL.
func (c *Client) BumpVelocity(ctx context.Context, entityID string) error {
	err := c.do(ctx, func(ctx context.Context) error {
		pipe := c.client.Pipeline()
		for _, w := range VelocityWindows {
			key := VelocityKey(entityID, w.Name)
			pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, w.TTL)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to bump velocity counters: %w", err)
	}
	return nil
}

func (c *Client) getString(ctx context.Context, key string) (string, bool, error) {
	var s string
	found := false
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		s, found = v, true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return s, found, nil
}

// GetFloat reads a cached float. The second return is false on a miss.
func (c *Client) GetFloat(ctx context.Context, key string) (float64, bool, error) {
	s, found, err := c.getString(ctx, key)
	if err != nil || !found {
		return 0, found, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse float at %s: %w", key, err)
	}
	return f, true, nil
}

func (c *Client) SetFloat(ctx context.Context, key string, value float64, ttl time.Duration) error {
	err := c.do(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, key, strconv.FormatFloat(value, 'f', -1, 64), ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// GetJSON decodes a cached JSON document into dest. The return is
// false on a miss and dest is left untouched.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	s, found, err := c.getString(ctx, key)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	err = c.do(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, key, data, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (c *Client) SIsMember(ctx context.Context, key, member string) (bool, error) {
	var hit bool
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		hit, err = c.client.SIsMember(ctx, key, member).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to check membership in %s: %w", key, err)
	}
	return hit, nil
}

// SAdd inserts members without touching the key's TTL. Used to seed
// watchlists.
func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	err := c.do(ctx, func(ctx context.Context) error {
		return c.client.SAdd(ctx, key, args...).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to add to %s: %w", key, err)
	}
	return nil
}

// SAddWithTTL inserts a member and refreshes the set's TTL.
func (c *Client) SAddWithTTL(ctx context.Context, key, member string, ttl time.Duration) error {
	err := c.do(ctx, func(ctx context.Context) error {
		pipe := c.client.Pipeline()
		pipe.SAdd(ctx, key, member)
		pipe.Expire(ctx, key, ttl)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to add to %s: %w", key, err)
	}
	return nil
}

func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = c.client.SCard(ctx, key).Result()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", key, err)
	}
	return n, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.client.Close()
}
