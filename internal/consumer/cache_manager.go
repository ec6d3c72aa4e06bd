package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cardiotwin/internal/config"
	"cardiotwin/internal/models"

	"go.uber.org/zap"
)

// CacheManager 会话结果缓存（最新评分结果、最近一次推送文案、联系电话、推送语言）
type CacheManager struct {
	config *config.Config
	kv     KVStore
	logger *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	kv KVStore,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config: cfg,
		kv:     kv,
		logger: logger,
	}
}

// key 构建缓存键，如 cardiotwin:session:{id}:latest
func (c *CacheManager) key(sessionID, suffix string) string {
	return fmt.Sprintf("%s%s:%s", c.config.Cache.KeyPrefix, sessionID, suffix)
}

func (c *CacheManager) ttl() time.Duration {
	return time.Duration(c.config.Cache.ResultTTL) * time.Second
}

// SetLatestResult 缓存最新处理结果（calibrating 或 scored）
func (c *CacheManager) SetLatestResult(ctx context.Context, sessionID string, result *models.ProcessResult) error {
	jsonData, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal latest result: %w", err)
	}
	key := c.key(sessionID, "latest")
	if err := c.kv.Set(ctx, key, string(jsonData), c.ttl()); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated latest result cache",
		zap.String("session_id", sessionID),
		zap.String("key", key),
		zap.String("status", string(result.Status)),
	)
	return nil
}

// GetLatestResult 读取最新处理结果；不存在时返回 nil, nil
func (c *CacheManager) GetLatestResult(ctx context.Context, sessionID string) (*models.ProcessResult, error) {
	val, err := c.kv.Get(ctx, c.key(sessionID, "latest"))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest result: %w", err)
	}
	var result models.ProcessResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal latest result: %w", err)
	}
	return &result, nil
}

// SetNudge 缓存最近一次推送文案
func (c *CacheManager) SetNudge(ctx context.Context, nudge *models.NudgeRecord) error {
	jsonData, err := json.Marshal(nudge)
	if err != nil {
		return fmt.Errorf("failed to marshal nudge: %w", err)
	}
	if err := c.kv.Set(ctx, c.key(nudge.SessionID, "nudge"), string(jsonData), c.ttl()); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// GetNudge 读取最近一次推送；不存在时返回 nil, nil
func (c *CacheManager) GetNudge(ctx context.Context, sessionID string) (*models.NudgeRecord, error) {
	val, err := c.kv.Get(ctx, c.key(sessionID, "nudge"))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get nudge: %w", err)
	}
	var nudge models.NudgeRecord
	if err := json.Unmarshal([]byte(val), &nudge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nudge: %w", err)
	}
	return &nudge, nil
}

// SetPhone 缓存会话联系电话（数据库未启用时的唯一来源）
func (c *CacheManager) SetPhone(ctx context.Context, sessionID, phone string) error {
	ttl := time.Duration(c.config.Cache.SnapshotTTL) * time.Second
	if err := c.kv.Set(ctx, c.key(sessionID, "phone"), phone, ttl); err != nil {
		return fmt.Errorf("failed to set phone: %w", err)
	}
	return nil
}

// GetPhone 读取会话联系电话；不存在返回空字符串
func (c *CacheManager) GetPhone(ctx context.Context, sessionID string) (string, error) {
	val, err := c.kv.Get(ctx, c.key(sessionID, "phone"))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get phone: %w", err)
	}
	return val, nil
}

// SetLanguage 缓存会话推送语言
func (c *CacheManager) SetLanguage(ctx context.Context, sessionID string, lang models.Language) error {
	ttl := time.Duration(c.config.Cache.SnapshotTTL) * time.Second
	if err := c.kv.Set(ctx, c.key(sessionID, "lang"), string(lang), ttl); err != nil {
		return fmt.Errorf("failed to set language: %w", err)
	}
	return nil
}

// GetLanguage 读取会话推送语言；不存在返回空值
func (c *CacheManager) GetLanguage(ctx context.Context, sessionID string) (models.Language, error) {
	val, err := c.kv.Get(ctx, c.key(sessionID, "lang"))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get language: %w", err)
	}
	return models.Language(val), nil
}

// ClearSession 删除会话相关缓存
func (c *CacheManager) ClearSession(ctx context.Context, sessionID string) error {
	keys := []string{
		c.key(sessionID, "latest"),
		c.key(sessionID, "nudge"),
		c.key(sessionID, "phone"),
		c.key(sessionID, "lang"),
	}
	if err := c.kv.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to clear session cache: %w", err)
	}
	return nil
}
