package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cardiotwin/internal/config"
	"cardiotwin/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StateManager 会话状态管理器（引擎快照、报警锁存）
type StateManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewStateManager 创建状态管理器
func NewStateManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *StateManager {
	return &StateManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// GetStateKey 构建状态键，如 cardiotwin:session:{id}:snapshot
func (s *StateManager) GetStateKey(sessionID, stateType string) string {
	return fmt.Sprintf("%s%s:%s", s.config.Cache.KeyPrefix, sessionID, stateType)
}

// SaveSnapshot 保存引擎会话快照（带 TTL）
func (s *StateManager) SaveSnapshot(ctx context.Context, snap *models.SessionSnapshot) error {
	jsonData, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	ttl := time.Duration(s.config.Cache.SnapshotTTL) * time.Second
	if err := s.redisClient.Set(ctx, s.GetStateKey(snap.SessionID, "snapshot"), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}
	return nil
}

// LoadSnapshot 读取会话快照；不存在时返回 nil, nil
func (s *StateManager) LoadSnapshot(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	val, err := s.redisClient.Get(ctx, s.GetStateKey(sessionID, "snapshot")).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	var snap models.SessionSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &snap, nil
}

// ListSnapshotSessionIDs 扫描所有已保存快照的会话
func (s *StateManager) ListSnapshotSessionIDs(ctx context.Context) ([]string, error) {
	pattern := s.config.Cache.KeyPrefix + "*:snapshot"
	var ids []string
	iter := s.redisClient.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), s.config.Cache.KeyPrefix)
		ids = append(ids, strings.TrimSuffix(key, ":snapshot"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan snapshots: %w", err)
	}
	return ids, nil
}

// DeleteSession 删除会话的快照和锁存状态
func (s *StateManager) DeleteSession(ctx context.Context, sessionID string) error {
	err := s.redisClient.Del(ctx, s.GetStateKey(sessionID, "snapshot"), s.GetStateKey(sessionID, "alert_latch")).Err()
	if err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// TryLatchAlert 尝试锁存报警：返回 true 表示这是本轮报警的第一次（需要推送）
func (s *StateManager) TryLatchAlert(ctx context.Context, sessionID string) (bool, error) {
	ttl := time.Duration(s.config.Cache.NudgeLatchTTL) * time.Second
	ok, err := s.redisClient.SetNX(ctx, s.GetStateKey(sessionID, "alert_latch"), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to latch alert: %w", err)
	}
	return ok, nil
}

// ResetAlertLatch 读数恢复正常后解除锁存
func (s *StateManager) ResetAlertLatch(ctx context.Context, sessionID string) error {
	if err := s.redisClient.Del(ctx, s.GetStateKey(sessionID, "alert_latch")).Err(); err != nil {
		return fmt.Errorf("failed to reset alert latch: %w", err)
	}
	return nil
}

// IsAlertLatched 检查锁存状态
func (s *StateManager) IsAlertLatched(ctx context.Context, sessionID string) (bool, error) {
	count, err := s.redisClient.Exists(ctx, s.GetStateKey(sessionID, "alert_latch")).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check state existence: %w", err)
	}
	return count > 0, nil
}
