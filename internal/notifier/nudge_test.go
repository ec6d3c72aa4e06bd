package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"cardiotwin/internal/config"
	"cardiotwin/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTemplateNudge(t *testing.T) {
	assert.Contains(t, TemplateNudge(models.ZoneRed, models.LanguageEnglish), "URGENT")
	assert.Contains(t, TemplateNudge(models.ZoneYellow, ""), "mild strain")
	assert.Equal(t, "Check your CardioTwin dashboard for health insights.", TemplateNudge("", models.LanguageEnglish))
}

func TestTemplateNudge_Languages(t *testing.T) {
	assert.Contains(t, TemplateNudge(models.ZoneGreen, models.LanguagePidgin), "dey correct")
	assert.NotEqual(t, TemplateNudge(models.ZoneRed, models.LanguagePidgin), TemplateNudge(models.ZoneRed, models.LanguageEnglish))

	// 没有离线模板的语言回退英语
	for _, lang := range []models.Language{models.LanguageYoruba, models.LanguageIgbo, models.LanguageHausa} {
		assert.Equal(t, TemplateNudge(models.ZoneOrange, models.LanguageEnglish), TemplateNudge(models.ZoneOrange, lang), lang)
	}
}

func TestNudgeComposer_TemplateWhenDisabled(t *testing.T) {
	cfg := &config.Config{}
	n := NewNudgeComposer(cfg, zap.NewNop())
	assert.False(t, n.Enabled())

	msg, source := n.Compose(context.Background(), NudgeRequest{SessionID: "s1", Zone: models.ZoneOrange})
	assert.Equal(t, TemplateNudge(models.ZoneOrange, models.LanguageEnglish), msg)
	assert.Equal(t, NudgeSourceTemplate, source)
}

func TestNudgeComposer_LLM(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Breathe slowly for a minute.  "}}]}`))
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Nudge.APIURL = srv.URL
	cfg.Nudge.APIKey = "test-key"
	cfg.Nudge.Model = "grok-3-mini"
	cfg.Nudge.Timeout = 2

	n := NewNudgeComposer(cfg, zap.NewNop())
	msg, source := n.Compose(context.Background(), NudgeRequest{
		SessionID:   "s1",
		Score:       42.5,
		Zone:        models.ZoneOrange,
		AlertReason: "Score dropped by 25.0 points",
	})
	assert.Equal(t, "Breathe slowly for a minute.", msg)
	assert.Equal(t, NudgeSourceLLM, source)

	assert.Equal(t, "grok-3-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "42.5")
	assert.Contains(t, got.Messages[1].Content, "Elevated Risk")
	assert.Contains(t, got.Messages[0].Content, "Reply in English")
}

func TestNudgeComposer_LLMLanguage(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Sinmi die."}}]}`))
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Nudge.APIURL = srv.URL
	cfg.Nudge.Timeout = 2

	n := NewNudgeComposer(cfg, zap.NewNop())
	msg, source := n.Compose(context.Background(), NudgeRequest{SessionID: "s1", Zone: models.ZoneYellow, Language: models.LanguageYoruba})
	assert.Equal(t, "Sinmi die.", msg)
	assert.Equal(t, NudgeSourceLLM, source)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[0].Content, "Reply in Yoruba")
}

func TestNudgeComposer_FallbackOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Nudge.APIURL = srv.URL
	cfg.Nudge.Timeout = 2

	n := NewNudgeComposer(cfg, zap.NewNop())
	msg, source := n.Compose(context.Background(), NudgeRequest{SessionID: "s1", Zone: models.ZoneRed, Language: models.LanguagePidgin})
	assert.Equal(t, TemplateNudge(models.ZoneRed, models.LanguagePidgin), msg)
	assert.Equal(t, NudgeSourceTemplate, source)
}

func TestNudgeComposer_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Nudge.APIURL = srv.URL
	cfg.Nudge.Timeout = 2

	_, source := NewNudgeComposer(cfg, zap.NewNop()).Compose(context.Background(), NudgeRequest{Zone: models.ZoneYellow})
	assert.Equal(t, NudgeSourceTemplate, source)
}
