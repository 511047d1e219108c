package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL 상수 정의
const (
	TTLUser    = 5 * time.Minute
	TTLShort   = 1 * time.Minute
	TTLDefault = 5 * time.Minute
)

// 캐시 키 접두사
const (
	PrefixUser = "chat:user:"
)

// ErrMiss is returned by Get when the key is absent or redis is not configured
var ErrMiss = errors.New("cache miss")

// Service Redis 캐시 서비스 인터페이스
type Service interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// 사용자 디렉터리 캐시
	GetUser(ctx context.Context, userID uint64, dest interface{}) error
	SetUser(ctx context.Context, userID uint64, data interface{}, ttl time.Duration) error
	InvalidateUser(ctx context.Context, userID uint64) error

	IsAvailable() bool
	Ping(ctx context.Context) error
}

// redisCache Redis 기반 캐시 구현
type redisCache struct {
	client *redis.Client
}

// NewService 새로운 캐시 서비스 생성. client may be nil, every read then misses.
func NewService(client *redis.Client) Service {
	return &redisCache{client: client}
}

// IsAvailable Redis 연결 가능 여부
func (c *redisCache) IsAvailable() bool {
	return c.client != nil
}

// Ping Redis 연결 테스트
func (c *redisCache) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return c.client.Ping(ctx).Err()
}

// Get 캐시에서 값 조회
func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return ErrMiss
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dest)
}

// Set 캐시에 값 저장
func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return nil // Redis 없으면 무시
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete 캐시 삭제
func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Exists 키 존재 여부
func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func userKey(userID uint64) string {
	return PrefixUser + strconv.FormatUint(userID, 10)
}

func (c *redisCache) GetUser(ctx context.Context, userID uint64, dest interface{}) error {
	return c.Get(ctx, userKey(userID), dest)
}

func (c *redisCache) SetUser(ctx context.Context, userID uint64, data interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLUser
	}
	return c.Set(ctx, userKey(userID), data, ttl)
}

func (c *redisCache) InvalidateUser(ctx context.Context, userID uint64) error {
	return c.Delete(ctx, userKey(userID))
}
