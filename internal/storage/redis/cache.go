package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"otpmail/bot/internal/domain"
	"otpmail/bot/internal/storage"
)

const cacheKeyPrefix = "otpbot:cache:session:"

// Cache 会话的 Redis 读缓存，供混合存储在 SQL 之上加速读取。
type Cache struct {
	rdb *goredis.Client
}

// NewCache 创建缓存客户端并验证连通性。
func NewCache(address, password string, db int) (*Cache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Cache{rdb: rdb}, nil
}

// NewCacheWithClient 使用现成的客户端创建缓存（测试用）。
func NewCacheWithClient(rdb *goredis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// CacheSession 写入缓存。
func (c *Cache) CacheSession(sess *domain.Session, ttl time.Duration) error {
	data, err := json.Marshal(fromDomain(sess))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return c.rdb.Set(ctx, cacheKeyPrefix+fmt.Sprint(sess.ChatID), data, ttl).Err()
}

// GetCachedSession 读取缓存，未命中返回 ErrSessionNotFound。
func (c *Cache) GetCachedSession(chatID int64) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := c.rdb.Get(ctx, cacheKeyPrefix+fmt.Sprint(chatID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec.toDomain(), nil
}

// InvalidateSession 删除缓存条目。
func (c *Cache) InvalidateSession(chatID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	c.rdb.Del(ctx, cacheKeyPrefix+fmt.Sprint(chatID))
}

// Health 检查 Redis 连通性。
func (c *Cache) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭连接。
func (c *Cache) Close() error {
	return c.rdb.Close()
}
