package consumer

import (
	"sync"
	"time"
)

// Metrics 监控指标
type Metrics struct {
	mu sync.RWMutex

	// 消息处理统计
	MessagesProcessed int64 // 处理的消息总数
	MessagesSucceeded int64 // 成功处理的消息数（含校准中）
	MessagesFailed    int64 // 处理失败的消息数
	MessagesRejected  int64 // 引擎拒绝的读数（校验失败、校准失败）

	// 错误分类统计
	ErrorsParse   int64 // 解析错误
	ErrorsEngine  int64 // 引擎内部错误
	ErrorsPublish int64 // 转发到 Stream 失败

	// 性能指标
	TotalProcessingTime time.Duration // 总处理时间
	LastProcessTime     time.Time     // 最后处理时间

	// 启动时间
	StartTime time.Time
}

// NewMetrics 创建指标
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed:   m.MessagesProcessed,
		MessagesSucceeded:   m.MessagesSucceeded,
		MessagesFailed:      m.MessagesFailed,
		MessagesRejected:    m.MessagesRejected,
		ErrorsParse:         m.ErrorsParse,
		ErrorsEngine:        m.ErrorsEngine,
		ErrorsPublish:       m.ErrorsPublish,
		TotalProcessingTime: m.TotalProcessingTime,
		LastProcessTime:     m.LastProcessTime,
		StartTime:           m.StartTime,
	}
}

// IncrementProcessed 增加处理计数
func (m *Metrics) IncrementProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
}

// IncrementSucceeded 增加成功计数
func (m *Metrics) IncrementSucceeded(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSucceeded++
	m.TotalProcessingTime += duration
	m.LastProcessTime = time.Now()
}

// IncrementRejected 增加拒绝计数
func (m *Metrics) IncrementRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesRejected++
	m.LastProcessTime = time.Now()
}

// IncrementFailed 增加失败计数
func (m *Metrics) IncrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesFailed++
	switch errorType {
	case "parse":
		m.ErrorsParse++
	case "engine":
		m.ErrorsEngine++
	case "publish":
		m.ErrorsPublish++
	}
}

// AvgProcessingTime 平均处理时间
func (m Metrics) AvgProcessingTime() time.Duration {
	if m.MessagesSucceeded == 0 {
		return 0
	}
	return m.TotalProcessingTime / time.Duration(m.MessagesSucceeded)
}

// SuccessRate 成功率（百分比）
func (m Metrics) SuccessRate() float64 {
	if m.MessagesProcessed == 0 {
		return 0
	}
	return float64(m.MessagesSucceeded) / float64(m.MessagesProcessed) * 100
}
