package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cardiotwin/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
	ChannelNone     = "none"
)

var (
	// ErrChannelNotConfigured 渠道未配置（缺少账号或发送号码）
	ErrChannelNotConfigured = errors.New("channel not configured")
	// ErrUnknownChannel 未知渠道
	ErrUnknownChannel = errors.New("unknown channel, use 'sms' or 'whatsapp'")
)

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// TwilioSender Twilio 消息发送（WhatsApp / SMS）
type TwilioSender struct {
	httpClient     *resty.Client
	accountSID     string
	smsNumber      string
	whatsAppNumber string
	logger         *zap.Logger
}

// NewTwilioSender 创建 Twilio 客户端
func NewTwilioSender(cfg *config.Config, logger *zap.Logger) *TwilioSender {
	client := resty.New().
		SetBaseURL(cfg.Twilio.BaseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetBasicAuth(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken).
		SetHeader("Accept", "application/json")

	return &TwilioSender{
		httpClient:     client,
		accountSID:     cfg.Twilio.AccountSID,
		smsNumber:      cfg.Twilio.SMSNumber,
		whatsAppNumber: cfg.Twilio.WhatsAppNumber,
		logger:         logger,
	}
}

// Enabled 是否至少配置了一个渠道
func (t *TwilioSender) Enabled() bool {
	return t.accountSID != "" && (t.smsNumber != "" || t.whatsAppNumber != "")
}

// Send 按指定渠道发送
func (t *TwilioSender) Send(ctx context.Context, channel, to, body string) (string, error) {
	switch strings.ToLower(channel) {
	case ChannelWhatsApp:
		return t.SendWhatsApp(ctx, to, body)
	case ChannelSMS:
		return t.SendSMS(ctx, to, body)
	default:
		return "", ErrUnknownChannel
	}
}

// Deliver 优先 WhatsApp，失败时回退 SMS；返回实际使用的渠道
func (t *TwilioSender) Deliver(ctx context.Context, to, body string) (string, error) {
	_, waErr := t.SendWhatsApp(ctx, to, body)
	if waErr == nil {
		return ChannelWhatsApp, nil
	}
	_, smsErr := t.SendSMS(ctx, to, body)
	if smsErr == nil {
		return ChannelSMS, nil
	}
	return ChannelNone, errors.Join(waErr, smsErr)
}

// SendWhatsApp 发送 WhatsApp 消息
func (t *TwilioSender) SendWhatsApp(ctx context.Context, to, body string) (string, error) {
	if t.accountSID == "" || t.whatsAppNumber == "" {
		return "", fmt.Errorf("whatsapp: %w", ErrChannelNotConfigured)
	}
	return t.send(ctx, withPrefix(t.whatsAppNumber, "whatsapp:"), withPrefix(to, "whatsapp:"), body)
}

// SendSMS 发送短信
func (t *TwilioSender) SendSMS(ctx context.Context, to, body string) (string, error) {
	if t.accountSID == "" || t.smsNumber == "" {
		return "", fmt.Errorf("sms: %w", ErrChannelNotConfigured)
	}
	return t.send(ctx, t.smsNumber, to, body)
}

func (t *TwilioSender) send(ctx context.Context, from, to, body string) (string, error) {
	var msg twilioMessage
	var apiErr twilioError
	resp, err := t.httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"From": from,
			"To":   to,
			"Body": body,
		}).
		SetResult(&msg).
		SetError(&apiErr).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", t.accountSID))
	if err != nil {
		return "", fmt.Errorf("failed to call Twilio API: %w", err)
	}
	if resp.IsError() {
		t.logger.Error("Twilio API returned error",
			zap.Int("status", resp.StatusCode()),
			zap.Int("code", apiErr.Code),
			zap.String("msg", apiErr.Message),
		)
		return "", fmt.Errorf("Twilio API error: %s (code: %d)", apiErr.Message, apiErr.Code)
	}

	t.logger.Info("Message sent",
		zap.String("sid", msg.SID),
		zap.String("status", msg.Status),
		zap.String("from", from),
	)
	return msg.SID, nil
}

func withPrefix(s, prefix string) string {
	if strings.HasPrefix(s, prefix) {
		return s
	}
	return prefix + s
}
