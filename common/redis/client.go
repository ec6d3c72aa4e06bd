package redis

import (
	"context"
	"fmt"
	"time"

	"cardiotwin/common/config"

	"github.com/go-redis/redis/v8"
)

const (
	dialTimeout = 5 * time.Second
	pingTimeout = 3 * time.Second
)

// NewRedisClient 创建Redis客户端（XREADGROUP 阻塞读取时 go-redis 会自动放宽读超时）
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})
}

// Ping 测试Redis连接
func Ping(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", client.Options().Addr, err)
	}
	return nil
}

// Close 关闭Redis连接
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
