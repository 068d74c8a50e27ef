package latest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"env-dashboard/internal/reading"
)

// KeyPrefix je prefix klíčů ve Valkey: "device:latest:{id}" -> JSON měření.
const KeyPrefix = "device:latest:"

// RedisMirror drží "Hot Storage" kopii indexu ve Valkey (Redis).
// Přepisujeme stále dokola poslední hodnotu každého zařízení.
type RedisMirror struct {
	rdb *redis.Client
	ttl time.Duration // 0 = bez expirace
}

// NewRedisMirror se připojí k Valkey a ověří spojení.
func NewRedisMirror(ctx context.Context, addr string, ttl time.Duration) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  time.Second,
		ReadTimeout:  mirrorTimeout,
		WriteTimeout: mirrorTimeout,
		MaxRetries:   1,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("Valkey není dostupný: %w", err)
	}
	return &RedisMirror{rdb: rdb, ttl: ttl}, nil
}

func Key(deviceID int) string {
	return fmt.Sprintf("%s%d", KeyPrefix, deviceID)
}

func (m *RedisMirror) Put(ctx context.Context, r reading.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, Key(r.DeviceID), payload, m.ttl).Err()
}

func (m *RedisMirror) Forget(ctx context.Context, deviceID int) error {
	return m.rdb.Del(ctx, Key(deviceID)).Err()
}

// ForgetAll smaže všechny klíče s prefixem. Používáme SCAN, ne KEYS,
// aby se Valkey na velké databázi nezablokoval.
func (m *RedisMirror) ForgetAll(ctx context.Context) error {
	var keys []string
	iter := m.rdb.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return m.rdb.Del(ctx, keys...).Err()
}

func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
