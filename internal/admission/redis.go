package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key snapshots are stored under.
const DefaultRedisKey = "wsproxy:registry"

// mirrorPayload is the JSON document stored in Redis.
type mirrorPayload struct {
	Instance  string    `json:"instance"`
	UpdatedAt time.Time `json:"updated_at"`
	Entries   []Entry   `json:"entries"`
}

// RedisMirror copies registry snapshots into Redis so that a separate
// process (the monitor) can observe a running server. The stored value
// expires on its own if the server stops publishing.
type RedisMirror struct {
	client   *redis.Client
	key      string
	instance string
	ttl      time.Duration
}

// NewRedisMirror connects to Redis and verifies the connection with a PING.
func NewRedisMirror(addr, password string, db int, key string) (*RedisMirror, error) {
	if key == "" {
		key = DefaultRedisKey
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisMirror{
		client:   rdb,
		key:      key,
		instance: fmt.Sprintf("wsproxy-%d", time.Now().UnixNano()),
		ttl:      30 * time.Second,
	}, nil
}

// Key returns the Redis key the mirror writes to.
func (m *RedisMirror) Key() string { return m.key }

// Publish stores entries under the mirror key.
func (m *RedisMirror) Publish(ctx context.Context, entries []Entry) error {
	data, err := encodeSnapshot(m.instance, time.Now(), entries)
	if err != nil {
		return err
	}
	if err := m.client.Set(ctx, m.key, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Entries implements Source by reading the last published snapshot.
// A missing key yields an empty snapshot.
func (m *RedisMirror) Entries(ctx context.Context) ([]Entry, error) {
	val, err := m.client.Get(ctx, m.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	p, err := decodeSnapshot(val)
	if err != nil {
		return nil, err
	}
	return p.Entries, nil
}

// Run publishes src every interval until ctx is done, then removes the key.
// The key TTL is kept at three intervals so a crashed server disappears
// from the monitor quickly. Publish errors are passed to onErr and do not
// stop the loop.
func (m *RedisMirror) Run(ctx context.Context, src Source, interval time.Duration, onErr func(error)) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	m.ttl = 3 * interval

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m.publishFrom(ctx, src, onErr)
		select {
		case <-ctx.Done():
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := m.client.Del(cctx, m.key).Err(); err != nil && onErr != nil {
				onErr(fmt.Errorf("redis del failed: %w", err))
			}
			cancel()
			return
		case <-ticker.C:
		}
	}
}

func (m *RedisMirror) publishFrom(ctx context.Context, src Source, onErr func(error)) {
	entries, err := src.Entries(ctx)
	if err == nil {
		err = m.Publish(ctx, entries)
	}
	if err != nil && onErr != nil && ctx.Err() == nil {
		onErr(err)
	}
}

// Close releases the Redis client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

func encodeSnapshot(instance string, at time.Time, entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(mirrorPayload{Instance: instance, UpdatedAt: at.UTC(), Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*mirrorPayload, error) {
	var p mirrorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &p, nil
}

var _ Source = (*RedisMirror)(nil)
