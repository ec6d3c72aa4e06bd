package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cardiotwin/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type twilioCall struct {
	path string
	from string
	to   string
	body string
}

func newTwilioServer(t *testing.T, failWhatsApp bool) (*httptest.Server, func() []twilioCall) {
	var mu sync.Mutex
	var calls []twilioCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())

		mu.Lock()
		calls = append(calls, twilioCall{path: r.URL.Path, from: r.PostForm.Get("From"), to: r.PostForm.Get("To"), body: r.PostForm.Get("Body")})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if failWhatsApp && strings.HasPrefix(r.PostForm.Get("To"), "whatsapp:") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":63007,"message":"channel not found","status":400}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []twilioCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]twilioCall(nil), calls...)
	}
}

func twilioConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Twilio.BaseURL = baseURL
	cfg.Twilio.AccountSID = "AC123"
	cfg.Twilio.AuthToken = "secret"
	cfg.Twilio.SMSNumber = "+15550001"
	cfg.Twilio.WhatsAppNumber = "+15550002"
	return cfg
}

func TestTwilioSender_SendWhatsApp(t *testing.T) {
	srv, calls := newTwilioServer(t, false)
	sender := NewTwilioSender(twilioConfig(srv.URL), zap.NewNop())
	require.True(t, sender.Enabled())

	sid, err := sender.SendWhatsApp(context.Background(), "+2348000000", "hello")
	require.NoError(t, err)
	assert.Equal(t, "SM1", sid)

	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", got[0].path)
	assert.Equal(t, "whatsapp:+15550002", got[0].from)
	assert.Equal(t, "whatsapp:+2348000000", got[0].to)
	assert.Equal(t, "hello", got[0].body)
}

func TestTwilioSender_DeliverFallsBackToSMS(t *testing.T) {
	srv, calls := newTwilioServer(t, true)
	sender := NewTwilioSender(twilioConfig(srv.URL), zap.NewNop())

	channel, err := sender.Deliver(context.Background(), "+2348000000", "hello")
	require.NoError(t, err)
	assert.Equal(t, ChannelSMS, channel)

	got := calls()
	last := got[len(got)-1]
	assert.Equal(t, "+15550001", last.from)
	assert.Equal(t, "+2348000000", last.to)
}

func TestTwilioSender_NotConfigured(t *testing.T) {
	cfg := &config.Config{}
	cfg.Twilio.BaseURL = "http://127.0.0.1:1"
	sender := NewTwilioSender(cfg, zap.NewNop())
	assert.False(t, sender.Enabled())

	_, err := sender.SendSMS(context.Background(), "+1", "x")
	assert.ErrorIs(t, err, ErrChannelNotConfigured)

	channel, err := sender.Deliver(context.Background(), "+1", "x")
	assert.ErrorIs(t, err, ErrChannelNotConfigured)
	assert.Equal(t, ChannelNone, channel)

	_, err = sender.Send(context.Background(), "fax", "+1", "x")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}
