package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cardiotwin/internal/models"
	"cardiotwin/internal/service"

	"go.uber.org/zap"
)

// Monitor 监测服务接口（*service.MonitorService 实现）
type Monitor interface {
	StartSession(ctx context.Context, sessionID string, userPhone *string, language string) (*service.SessionStarted, error)
	HandleReading(ctx context.Context, raw models.RawReading) (*models.ProcessResult, error)
	LatestScore(ctx context.Context, sessionID string) (*models.ProcessResult, error)
	History(ctx context.Context, sessionID string) ([]models.ScorePoint, error)
	ExportHistory(ctx context.Context, sessionID string) ([]byte, error)
	Predict(ctx context.Context, sessionID string, days int, scenario string) (*models.Projection, error)
	Nudge(ctx context.Context, sessionID string) (*models.NudgeRecord, error)
	SendAlert(ctx context.Context, channel, to, message string) (*service.AlertSent, error)
	AlertEvents(ctx context.Context, sessionID string, limit int) ([]*models.AlertEvent, error)
	EndSession(ctx context.Context, sessionID string) (*service.SessionEnded, error)
}

// MonitorHandler 监测 API
type MonitorHandler struct {
	monitor Monitor
	logger  *zap.Logger
	now     func() time.Time
}

func NewMonitorHandler(monitor Monitor, logger *zap.Logger) *MonitorHandler {
	return &MonitorHandler{monitor: monitor, logger: logger, now: time.Now}
}

type startSessionRequest struct {
	SessionID string  `json:"session_id"`
	UserPhone *string `json:"user_phone"`
	Language  string  `json:"language"` // en, pcm, yo, ig, ha；默认 en
}

// POST /api/session/start
func (h *MonitorHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	res, err := h.monitor.StartSession(r.Context(), req.SessionID, req.UserPhone, req.Language)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

// POST /api/reading
// body: {bpm, hrv, spo2, temperature, timestamp?, session_id}
// timestamp 缺省或为 0 时使用服务器时间（毫秒）
func (h *MonitorHandler) PostReading(w http.ResponseWriter, r *http.Request) {
	var raw models.RawReading
	if err := readBodyJSON(r, maxBodyBytes, &raw); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if raw.Timestamp == nil || *raw.Timestamp == 0 {
		ts := h.now().UnixMilli()
		raw.Timestamp = &ts
	}

	res, err := h.monitor.HandleReading(r.Context(), raw)
	if err != nil {
		h.logger.Error("Failed to handle reading", zap.String("session_id", raw.SessionID), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

// GET /api/score/{session_id}
func (h *MonitorHandler) GetScore(w http.ResponseWriter, r *http.Request, sessionID string) {
	res, err := h.monitor.LatestScore(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

// GET /api/history/{session_id}
func (h *MonitorHandler) GetHistory(w http.ResponseWriter, r *http.Request, sessionID string) {
	history, err := h.monitor.History(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []models.ScorePoint{}
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"session_id": sessionID,
		"count":      len(history),
		"history":    history,
	}))
}

// GET /api/history/{session_id}/export
func (h *MonitorHandler) ExportHistory(w http.ResponseWriter, r *http.Request, sessionID string) {
	data, err := h.monitor.ExportHistory(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	filename := fmt.Sprintf("cardiotwin_%s_%s.xlsx", sessionID, h.now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type predictRequest struct {
	SessionID string `json:"session_id"`
	Days      *int   `json:"days"`
	Scenario  string `json:"scenario"`
}

// POST /api/predict
// body: {session_id, days? (默认 90), scenario?}
func (h *MonitorHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("session_id is required"))
		return
	}
	days := 90
	if req.Days != nil {
		days = *req.Days
	}

	p, err := h.monitor.Predict(r.Context(), req.SessionID, days, req.Scenario)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(p))
}

// GET /api/nudge/{session_id}
func (h *MonitorHandler) GetNudge(w http.ResponseWriter, r *http.Request, sessionID string) {
	nudge, err := h.monitor.Nudge(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(nudge))
}

type sendAlertRequest struct {
	ToPhone string `json:"to_phone"`
	Message string `json:"message"`
	Channel string `json:"channel"`
}

// POST /api/alert
// body: {to_phone, message, channel: sms | whatsapp}
func (h *MonitorHandler) SendAlert(w http.ResponseWriter, r *http.Request) {
	var req sendAlertRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	res, err := h.monitor.SendAlert(r.Context(), req.Channel, req.ToPhone, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

// GET /api/alerts/{session_id}?limit=50
func (h *MonitorHandler) ListAlerts(w http.ResponseWriter, r *http.Request, sessionID string) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	events, err := h.monitor.AlertEvents(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(events))
}

// POST /api/session/end/{session_id}
func (h *MonitorHandler) EndSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	res, err := h.monitor.EndSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}
