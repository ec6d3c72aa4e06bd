package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cardiotwin/internal/config"
	"cardiotwin/internal/models"
	"cardiotwin/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRouter(t *testing.T) *Router {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	cfg := &config.Config{}
	cfg.Cache.KeyPrefix = "cardiotwin:session:"
	cfg.Cache.ResultTTL = 60
	cfg.Cache.SnapshotTTL = 600
	cfg.Cache.NudgeLatchTTL = 60
	cfg.Session.IdleTimeoutSec = 1800
	cfg.Twilio.BaseURL = "http://127.0.0.1:0"

	svc := service.NewMonitorService(cfg, redisClient, service.Repositories{}, zap.NewNop())
	t.Cleanup(svc.Close)
	h := NewMonitorHandler(svc, zap.NewNop())
	h.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	r := NewRouter(zap.NewNop())
	r.RegisterMonitorRoutes(h)
	return r
}

func do(r *Router, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResult[T any](t *testing.T, w *httptest.ResponseRecorder) Result[T] {
	t.Helper()
	var out Result[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// calibrate 通过 API 完成校准
func calibrate(t *testing.T, r *Router, sessionID string) {
	t.Helper()
	for i := 0; i < 15; i++ {
		k := []float64{0, 0.5, -0.5, 1, -1}[i%5]
		body := fmt.Sprintf(`{"session_id":%q,"bpm":%g,"hrv":%g,"spo2":%g,"temperature":%g,"timestamp":%d}`,
			sessionID, 70+2*k, 45+2*k, 98+k, 36.6+0.1*k, 1000+i*2000)
		w := do(r, http.MethodPost, "/api/reading", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	r := setupRouter(t)
	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"code":2000`)

	w = do(r, http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStartSession(t *testing.T) {
	r := setupRouter(t)

	w := do(r, http.MethodPost, "/api/session/start", `{"session_id":"s1","user_phone":"+15550001111"}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeResult[service.SessionStarted](t, w)
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, "session_started", res.Result.Status)
	assert.True(t, res.Result.Created)
	assert.NotEmpty(t, res.Result.RunID)
	assert.Equal(t, models.LanguageEnglish, res.Result.Language)

	w = do(r, http.MethodPost, "/api/session/start", `{"session_id":"s2","language":"yo"}`)
	require.Equal(t, http.StatusOK, w.Code)
	res = decodeResult[service.SessionStarted](t, w)
	assert.Equal(t, models.LanguageYoruba, res.Result.Language)

	w = do(r, http.MethodPost, "/api/session/start", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":-1`)

	w = do(r, http.MethodPost, "/api/session/start", `{bad json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostReading_CalibratesThenScores(t *testing.T) {
	r := setupRouter(t)

	w := do(r, http.MethodPost, "/api/reading", `{"session_id":"s1","bpm":70,"hrv":45,"spo2":98,"temperature":36.6,"timestamp":1000}`)
	require.Equal(t, http.StatusOK, w.Code)
	first := decodeResult[models.ProcessResult](t, w)
	assert.Equal(t, models.StatusCalibrating, first.Result.Status)
	assert.Equal(t, 1, first.Result.ReadingsCollected)

	r = setupRouter(t)
	calibrate(t, r, "s1")

	// 未携带时间戳：使用服务器时间
	w = do(r, http.MethodPost, "/api/reading", `{"session_id":"s1","heart_rate":70,"hrv":45,"spo2":98,"temperature":36.6}`)
	require.Equal(t, http.StatusOK, w.Code)
	scored := decodeResult[models.ProcessResult](t, w)
	require.Equal(t, models.StatusScored, scored.Result.Status)
	require.NotNil(t, scored.Result.Result)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(), scored.Result.Result.Timestamp)

	w = do(r, http.MethodGet, "/api/score/s1", "")
	require.Equal(t, http.StatusOK, w.Code)
	latest := decodeResult[models.ProcessResult](t, w)
	assert.Equal(t, scored.Result.Result.CompositeScore, latest.Result.Result.CompositeScore)

	w = do(r, http.MethodGet, "/api/history/s1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestPostReading_RejectedIsNotAnError(t *testing.T) {
	r := setupRouter(t)

	w := do(r, http.MethodPost, "/api/reading", `{"session_id":"s1","bpm":"fast","hrv":45,"spo2":98,"temperature":36.6,"timestamp":1000}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeResult[models.ProcessResult](t, w)
	assert.Equal(t, models.StatusRejected, res.Result.Status)
	assert.Contains(t, res.Result.Reason, "heart_rate")

	w = do(r, http.MethodPost, "/api/reading", `{"bpm":70}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetScore_NotFound(t *testing.T) {
	r := setupRouter(t)
	w := do(r, http.MethodGet, "/api/score/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"code":-1`)

	w = do(r, http.MethodGet, "/api/score/", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportHistory(t *testing.T) {
	r := setupRouter(t)
	calibrate(t, r, "s1")
	w := do(r, http.MethodPost, "/api/reading", `{"session_id":"s1","bpm":70,"hrv":45,"spo2":98,"temperature":36.6,"timestamp":40000}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/history/s1/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="cardiotwin_s1_20240102_030405.xlsx"`, w.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "PK"), "xlsx is a zip archive")

	w = do(r, http.MethodGet, "/api/history/missing/export", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPredict(t *testing.T) {
	r := setupRouter(t)
	calibrate(t, r, "s1")

	w := do(r, http.MethodPost, "/api/predict", `{"session_id":"s1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "insufficient history")

	for i, hr := range []int{70, 72, 74} {
		body := fmt.Sprintf(`{"session_id":"s1","bpm":%d,"hrv":45,"spo2":98,"temperature":36.6,"timestamp":%d}`, hr, 40000+i*2000)
		require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/reading", body).Code)
	}

	w = do(r, http.MethodPost, "/api/predict", `{"session_id":"s1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decodeResult[models.Projection](t, w)
	assert.Equal(t, 90, p.Result.HorizonDays)

	w = do(r, http.MethodPost, "/api/predict", `{"session_id":"s1","days":7,"scenario":"start daily exercise"}`)
	require.Equal(t, http.StatusOK, w.Code)
	p = decodeResult[models.Projection](t, w)
	assert.Equal(t, 7, p.Result.HorizonDays)
	assert.Equal(t, "start daily exercise", p.Result.Scenario)

	w = do(r, http.MethodPost, "/api/predict", `{"session_id":"s1","days":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/predict", `{"session_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/predict", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNudgeAndAlerts(t *testing.T) {
	r := setupRouter(t)

	w := do(r, http.MethodGet, "/api/nudge/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	calibrate(t, r, "s1")
	w = do(r, http.MethodPost, "/api/reading", `{"session_id":"s1","bpm":70,"hrv":45,"spo2":98,"temperature":36.6,"timestamp":40000}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/nudge/s1", "")
	require.Equal(t, http.StatusOK, w.Code)
	nudge := decodeResult[models.NudgeRecord](t, w)
	assert.NotEmpty(t, nudge.Result.Message)
	assert.Equal(t, models.ZoneGreen, nudge.Result.Zone)

	w = do(r, http.MethodGet, "/api/alerts/s1?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"result":[]`)
}

func TestSendAlert(t *testing.T) {
	r := setupRouter(t)

	w := do(r, http.MethodPost, "/api/alert", `{"to_phone":"+1555","message":"hi","channel":"fax"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/alert", `{"to_phone":"+1555","message":"hi","channel":"sms"}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeResult[service.AlertSent](t, w)
	assert.Equal(t, "failed", res.Result.Status, "twilio not configured")
}

func TestEndSession(t *testing.T) {
	r := setupRouter(t)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/session/start", `{"session_id":"s1"}`).Code)

	w := do(r, http.MethodGet, "/api/session/end/s1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = do(r, http.MethodPost, "/api/session/end/s1", "")
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeResult[service.SessionEnded](t, w)
	assert.Equal(t, "session_ended", res.Result.Status)
	require.NotNil(t, res.Result.Summary)
	assert.Equal(t, "s1", res.Result.Summary.SessionID)

	w = do(r, http.MethodPost, "/api/session/end/s1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
