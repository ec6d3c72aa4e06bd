package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cardiotwin/internal/models"

	"go.uber.org/zap"
)

// AlertLatch 报警锁存（同一轮报警只推送一次）
type AlertLatch interface {
	TryLatchAlert(ctx context.Context, sessionID string) (bool, error)
	ResetAlertLatch(ctx context.Context, sessionID string) error
}

// NudgeStore 推送记录存储
type NudgeStore interface {
	SetNudge(ctx context.Context, nudge *models.NudgeRecord) error
}

// ContactBook 会话联系信息：电话（无电话返回空字符串）和推送语言
type ContactBook interface {
	GetPhone(ctx context.Context, sessionID string) (string, error)
	GetLanguage(ctx context.Context, sessionID string) (models.Language, error)
}

// AlertEventRecorder 报警事件持久化
type AlertEventRecorder interface {
	CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error
}

// Composer 推送文案生成
type Composer interface {
	Compose(ctx context.Context, req NudgeRequest) (string, string)
}

// MessageSender 消息下发
type MessageSender interface {
	Enabled() bool
	Deliver(ctx context.Context, to, body string) (string, error)
}

// Vibrator 设备震动提醒
type Vibrator interface {
	Vibrate(sessionID string, zone models.Zone, severity models.AlertSeverity) error
}

// DispatcherOptions 投递 worker 参数
type DispatcherOptions struct {
	Workers    int           // 并发投递数，默认 2
	QueueSize  int           // 待投递队列长度，默认 64
	JobTimeout time.Duration // 单次投递（文案生成 + 下发 + 记录）超时，默认 30s
}

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 30 * time.Second
	}
	return o
}

// deliveryJob 已取得锁存、等待投递的一次报警
type deliveryJob struct {
	sessionID   string
	runID       string
	result      models.ScoredResult
	reading     *models.Reading
	triggeredAt time.Time
}

// AlertDispatcher 报警分发。
// 读数处理路径上只做锁存判断；文案生成、短信/WhatsApp、设备震动、事件记录由后台 worker 完成。
type AlertDispatcher struct {
	latch    AlertLatch
	nudges   NudgeStore
	contacts ContactBook
	composer Composer
	sender   MessageSender      // 可为 nil
	device   Vibrator           // 可为 nil（MQTT 未启用）
	recorder AlertEventRecorder // 可为 nil（数据库未启用）
	logger   *zap.Logger

	opts        DispatcherOptions
	onDelivered func(ctx context.Context, record *models.NudgeRecord)

	mu      sync.RWMutex
	jobs    chan deliveryJob
	closed  bool
	wg      sync.WaitGroup
	started sync.Once
}

// NewAlertDispatcher 创建报警分发器
func NewAlertDispatcher(
	latch AlertLatch,
	nudges NudgeStore,
	contacts ContactBook,
	composer Composer,
	opts DispatcherOptions,
	logger *zap.Logger,
) *AlertDispatcher {
	opts = opts.withDefaults()
	return &AlertDispatcher{
		latch:    latch,
		nudges:   nudges,
		contacts: contacts,
		composer: composer,
		logger:   logger,
		opts:     opts,
		jobs:     make(chan deliveryJob, opts.QueueSize),
	}
}

// WithSender 设置消息下发渠道
func (d *AlertDispatcher) WithSender(sender MessageSender) *AlertDispatcher {
	d.sender = sender
	return d
}

// WithDevice 设置设备指令下发器
func (d *AlertDispatcher) WithDevice(device Vibrator) *AlertDispatcher {
	d.device = device
	return d
}

// WithRecorder 设置报警事件持久化
func (d *AlertDispatcher) WithRecorder(recorder AlertEventRecorder) *AlertDispatcher {
	d.recorder = recorder
	return d
}

// OnDelivered 每次投递完成后回调（指标统计）
func (d *AlertDispatcher) OnDelivered(fn func(ctx context.Context, record *models.NudgeRecord)) *AlertDispatcher {
	d.onDelivered = fn
	return d
}

// Start 启动投递 worker（重复调用无效果）
func (d *AlertDispatcher) Start() {
	d.started.Do(func() {
		for i := 0; i < d.opts.Workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
		d.logger.Info("Alert dispatcher started",
			zap.Int("workers", d.opts.Workers),
			zap.Int("queue_size", d.opts.QueueSize),
		)
	})
}

// Stop 停止接收新任务，等待队列中的投递完成
func (d *AlertDispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Alert dispatcher stopped")
}

// Dispatch 处理一条评分结果，返回是否为本轮报警排入了推送。
// 只有本轮报警的第一条读数会取得锁存；无报警的读数解除锁存。
func (d *AlertDispatcher) Dispatch(ctx context.Context, res *models.ProcessResult) (bool, error) {
	if res == nil || res.Status != models.StatusScored || res.Result == nil {
		return false, nil
	}
	result := res.Result
	sessionID := res.SessionID

	if !result.Alert {
		if err := d.latch.ResetAlertLatch(ctx, sessionID); err != nil {
			return false, fmt.Errorf("failed to reset alert latch: %w", err)
		}
		return false, nil
	}

	first, err := d.latch.TryLatchAlert(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to latch alert: %w", err)
	}
	if !first {
		return false, nil
	}

	job := deliveryJob{
		sessionID:   sessionID,
		runID:       res.RunID,
		result:      *result,
		triggeredAt: time.Now(),
	}
	if res.Reading != nil {
		r := *res.Reading
		job.reading = &r
	}

	if d.enqueue(job) {
		return true, nil
	}

	// 未能排入队列：释放锁存，让本轮报警的下一条读数重试
	if err := d.latch.ResetAlertLatch(ctx, sessionID); err != nil {
		d.logger.Warn("Failed to release alert latch", zap.String("session_id", sessionID), zap.Error(err))
	}
	return false, nil
}

func (d *AlertDispatcher) enqueue(job deliveryJob) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("Alert dispatcher stopped, dropping nudge", zap.String("session_id", job.sessionID))
		return false
	}
	select {
	case d.jobs <- job:
		return true
	default:
		d.logger.Warn("Nudge queue is full, dropping nudge",
			zap.String("session_id", job.sessionID),
			zap.Int("queue_size", d.opts.QueueSize),
		)
		return false
	}
}

func (d *AlertDispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.JobTimeout)
		d.deliverJob(ctx, job)
		cancel()
	}
}

// deliverJob 生成文案 -> 短信/WhatsApp -> 设备震动 -> 记录事件 -> 缓存推送
func (d *AlertDispatcher) deliverJob(ctx context.Context, job deliveryJob) *models.NudgeRecord {
	result := &job.result
	sessionID := job.sessionID

	lang, err := d.contacts.GetLanguage(ctx, sessionID)
	if err != nil {
		d.logger.Warn("Failed to look up language", zap.String("session_id", sessionID), zap.Error(err))
		lang = models.LanguageEnglish
	}

	message, source := d.composer.Compose(ctx, NudgeRequest{
		SessionID:   sessionID,
		Score:       result.CompositeScore,
		Zone:        result.Zone,
		AlertReason: result.AlertReason,
		Components:  result.Components,
		Language:    lang,
	})

	channel, delivered := d.deliver(ctx, sessionID, message)

	if d.device != nil {
		if err := d.device.Vibrate(sessionID, result.Zone, result.AlertSeverity); err != nil {
			d.logger.Warn("Failed to send device command",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}

	if d.recorder != nil {
		event, err := NewAlertEventBuilder(sessionID, job.runID, job.triggeredAt).BuildAlertEvent(
			result,
			BuildTriggerData(result, job.reading),
			message,
			channel,
			delivered,
		)
		if err != nil {
			d.logger.Error("Failed to build alert event", zap.String("session_id", sessionID), zap.Error(err))
		} else if err := d.recorder.CreateAlertEvent(ctx, event); err != nil {
			d.logger.Error("Failed to record alert event", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	record := &models.NudgeRecord{
		SessionID: sessionID,
		Message:   message,
		Source:    source,
		Language:  lang,
		Zone:      result.Zone,
		ZoneLabel: result.Zone.Label(),
		Score:     result.CompositeScore,
		Severity:  result.AlertSeverity,
		Channel:   channel,
		Delivered: delivered,
		CreatedAt: time.Now(),
	}
	if err := d.nudges.SetNudge(ctx, record); err != nil {
		d.logger.Warn("Failed to cache nudge", zap.String("session_id", sessionID), zap.Error(err))
	}
	if d.onDelivered != nil {
		d.onDelivered(ctx, record)
	}

	d.logger.Info("Alert dispatched",
		zap.String("session_id", sessionID),
		zap.String("alert_code", result.AlertCode),
		zap.String("severity", string(result.AlertSeverity)),
		zap.String("language", string(lang)),
		zap.String("channel", channel),
		zap.Bool("delivered", delivered),
		zap.Duration("latency", time.Since(job.triggeredAt)),
	)
	return record
}

func (d *AlertDispatcher) deliver(ctx context.Context, sessionID, message string) (string, bool) {
	if d.sender == nil || !d.sender.Enabled() {
		return ChannelNone, false
	}
	phone, err := d.contacts.GetPhone(ctx, sessionID)
	if err != nil {
		d.logger.Warn("Failed to look up phone", zap.String("session_id", sessionID), zap.Error(err))
		return ChannelNone, false
	}
	if phone == "" {
		return ChannelNone, false
	}
	channel, err := d.sender.Deliver(ctx, phone, message)
	if err != nil {
		d.logger.Warn("Failed to deliver nudge", zap.String("session_id", sessionID), zap.Error(err))
		return channel, false
	}
	return channel, true
}
