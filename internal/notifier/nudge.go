package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cardiotwin/internal/config"
	"cardiotwin/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	NudgeSourceLLM      = "llm"
	NudgeSourceTemplate = "template"
)

// nudgeTemplates 离线模板；没有对应语言模板时使用英语
var nudgeTemplates = map[models.Language]map[models.Zone]string{
	models.LanguageEnglish: {
		models.ZoneGreen:  "Great job! Your CardioTwin Score is excellent. Keep up the healthy lifestyle! 💚",
		models.ZoneYellow: "Heads up! Your CardioTwin Score shows mild strain. Consider taking a short break and some deep breaths. 💛",
		models.ZoneOrange: "⚠️ Alert: Your CardioTwin Score indicates elevated risk. Please rest, hydrate, and consider speaking with a healthcare provider. 🧡",
		models.ZoneRed:    "🚨 URGENT: Your CardioTwin Score is critically low. Stop physical activity immediately and seek medical attention if symptoms persist. ❤️",
	},
	models.LanguagePidgin: {
		models.ZoneGreen:  "Well done! Your CardioTwin Score dey correct. Continue like this! 💚",
		models.ZoneYellow: "Small wahala! Your CardioTwin Score show say your body dey strain small. Rest small and breathe well. 💛",
		models.ZoneOrange: "⚠️ Hold am: Your CardioTwin Score show say risk don rise. Abeg rest, drink water, and talk to health worker. 🧡",
		models.ZoneRed:    "🚨 URGENT: Your CardioTwin Score don fall well well. Stop wetin you dey do now now and find doctor if e no better. ❤️",
	},
}

// TemplateNudge 区间模板文案
func TemplateNudge(zone models.Zone, lang models.Language) string {
	templates, ok := nudgeTemplates[lang]
	if !ok {
		templates = nudgeTemplates[models.LanguageEnglish]
	}
	if msg, ok := templates[zone]; ok {
		return msg
	}
	return "Check your CardioTwin dashboard for health insights."
}

// NudgeRequest 生成推送文案所需的上下文
type NudgeRequest struct {
	SessionID   string
	Score       float64
	Zone        models.Zone
	AlertReason string
	Components  models.ComponentScores
	Language    models.Language // 空值按英语处理
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NudgeComposer 推送文案生成器（OpenAI 兼容接口，失败时回退区间模板）
type NudgeComposer struct {
	httpClient *resty.Client
	apiURL     string
	model      string
	logger     *zap.Logger
}

// NewNudgeComposer 创建文案生成器；未配置 API 时只使用模板
func NewNudgeComposer(cfg *config.Config, logger *zap.Logger) *NudgeComposer {
	timeout := time.Duration(cfg.Nudge.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Nudge.APIKey != "" {
		client.SetAuthToken(cfg.Nudge.APIKey)
	}

	return &NudgeComposer{
		httpClient: client,
		apiURL:     cfg.Nudge.APIURL,
		model:      cfg.Nudge.Model,
		logger:     logger,
	}
}

// Enabled 是否配置了 LLM 接口
func (n *NudgeComposer) Enabled() bool {
	return n.apiURL != ""
}

// Compose 生成推送文案，返回文案和来源（llm / template）
func (n *NudgeComposer) Compose(ctx context.Context, req NudgeRequest) (string, string) {
	if !n.Enabled() {
		return TemplateNudge(req.Zone, req.Language), NudgeSourceTemplate
	}

	msg, err := n.generate(ctx, req)
	if err != nil {
		n.logger.Warn("Nudge generation failed, using template",
			zap.String("session_id", req.SessionID),
			zap.String("language", string(req.Language)),
			zap.Error(err),
		)
		return TemplateNudge(req.Zone, req.Language), NudgeSourceTemplate
	}
	return msg, NudgeSourceLLM
}

func (n *NudgeComposer) generate(ctx context.Context, req NudgeRequest) (string, error) {
	body := chatRequest{
		Model: n.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(req.Language)},
			{Role: "user", Content: buildNudgePrompt(req)},
		},
		MaxTokens:   120,
		Temperature: 0.7,
	}

	var result chatResponse
	var apiErr chatError
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post(n.apiURL)
	if err != nil {
		return "", fmt.Errorf("failed to call nudge API: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("nudge API error: %s (status: %d)", apiErr.Error.Message, resp.StatusCode())
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("nudge API returned no choices")
	}

	msg := strings.TrimSpace(result.Choices[0].Message.Content)
	if msg == "" {
		return "", fmt.Errorf("nudge API returned empty message")
	}
	return msg, nil
}

func systemPrompt(lang models.Language) string {
	return fmt.Sprintf("You are CardioTwin, a friendly cardiovascular wellness coach for users in Nigeria. "+
		"Reply in %s with one short, encouraging message under 200 characters. Do not diagnose.", lang.Name())
}

func buildNudgePrompt(req NudgeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CardioTwin Score: %.1f (%s, %s).\n", req.Score, req.Zone, req.Zone.Label())
	if req.AlertReason != "" {
		fmt.Fprintf(&b, "Alert: %s.\n", req.AlertReason)
	}
	c := req.Components
	fmt.Fprintf(&b, "Heart rate %.0f bpm (%s), HRV %.0f ms (%s), SpO2 %.0f%% (%s), temperature %.1f°C (%s).\n",
		c.HeartRate.RawValue, c.HeartRate.Status,
		c.HRV.RawValue, c.HRV.Status,
		c.SpO2.RawValue, c.SpO2.Status,
		c.Temperature.RawValue, c.Temperature.Status,
	)
	fmt.Fprintf(&b, "Suggested action: %s", req.Zone.RecommendedAction())
	return b.String()
}
