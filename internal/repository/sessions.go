package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cardiotwin/internal/models"

	"go.uber.org/zap"
)

// SessionsRepository 会话登记仓库
type SessionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionsRepository 创建会话仓库
func NewSessionsRepository(db *sql.DB, logger *zap.Logger) *SessionsRepository {
	return &SessionsRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertSession 登记会话生命周期。
// run_id 变化表示同一 session_id 开始了新的生命周期：重置创建时间和结束时间；
// 手机号和语言仅在传入非空值时覆盖。
func (r *SessionsRepository) UpsertSession(ctx context.Context, info models.SessionInfo) error {
	if info.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if info.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO sessions (session_id, run_id, user_phone, language, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			user_phone = COALESCE(EXCLUDED.user_phone, sessions.user_phone),
			language = COALESCE(NULLIF(EXCLUDED.language, ''), sessions.language),
			created_at = CASE WHEN sessions.run_id = EXCLUDED.run_id THEN sessions.created_at ELSE EXCLUDED.created_at END,
			run_id = EXCLUDED.run_id,
			ended_at = NULL
	`
	if _, err := r.db.ExecContext(ctx, query, info.SessionID, info.RunID, info.UserPhone, info.Language, info.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// GetSession 查询会话（最近一次生命周期）；不存在时返回 nil, nil
func (r *SessionsRepository) GetSession(ctx context.Context, sessionID string) (*models.SessionInfo, error) {
	query := `
		SELECT session_id, run_id, user_phone, language, created_at, ended_at
		FROM sessions
		WHERE session_id = $1
	`

	var info models.SessionInfo
	var phone sql.NullString
	var endedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&info.SessionID,
		&info.RunID,
		&phone,
		&info.Language,
		&info.CreatedAt,
		&endedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if phone.Valid && phone.String != "" {
		info.UserPhone = &phone.String
	}
	if endedAt.Valid {
		info.EndedAt = &endedAt.Time
	}
	return &info, nil
}

// MarkEnded 记录会话结束时间；run_id 不匹配（已开始新的生命周期）时不更新
func (r *SessionsRepository) MarkEnded(ctx context.Context, sessionID, runID string, endedAt time.Time) error {
	query := `UPDATE sessions SET ended_at = $3 WHERE session_id = $1 AND run_id = $2`
	if _, err := r.db.ExecContext(ctx, query, sessionID, runID, endedAt); err != nil {
		return fmt.Errorf("failed to mark session ended: %w", err)
	}
	return nil
}
