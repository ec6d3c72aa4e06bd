package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrCalibrationInsufficient 扩展校准窗口后有效读数仍不足
	ErrCalibrationInsufficient = errors.New("insufficient clean readings for calibration")
	// ErrSensorStuck 某项指标校准值全部相同（传感器卡死）
	ErrSensorStuck = errors.New("sensor stuck: identical calibration values")
	// ErrSessionFailed 会话已校准失败，需要结束并重新开始
	ErrSessionFailed = errors.New("session calibration failed, end and restart the session")
	// ErrInsufficientData 预测所需历史点不足
	ErrInsufficientData = errors.New("insufficient_data")
	// ErrInvalidHorizon 预测天数超出范围
	ErrInvalidHorizon = errors.New("horizon must be between 1 and 365 days")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvariantViolation = errors.New("engine invariant violation")
)

// ValidationError 读数校验失败
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
