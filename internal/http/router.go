package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != m {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// RegisterMonitorRoutes 注册监测 API
func (r *Router) RegisterMonitorRoutes(h *MonitorHandler) {
	r.Handle("/health", method(http.MethodGet, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	}))

	// session
	r.Handle("/api/session/start", method(http.MethodPost, h.StartSession))
	r.Handle("/api/session/end/", method(http.MethodPost, func(w http.ResponseWriter, req *http.Request) {
		id, ok := pathParam(req.URL.Path, "/api/session/end/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.EndSession(w, req, id)
	}))

	// readings and scores
	r.Handle("/api/reading", method(http.MethodPost, h.PostReading))
	r.Handle("/api/score/", method(http.MethodGet, func(w http.ResponseWriter, req *http.Request) {
		id, ok := pathParam(req.URL.Path, "/api/score/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.GetScore(w, req, id)
	}))

	// history/{id} 与 history/{id}/export
	r.Handle("/api/history/", method(http.MethodGet, func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/api/history/")
		if id, ok := strings.CutSuffix(rest, "/export"); ok && id != "" && !strings.Contains(id, "/") {
			h.ExportHistory(w, req, id)
			return
		}
		id, ok := pathParam(req.URL.Path, "/api/history/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.GetHistory(w, req, id)
	}))

	r.Handle("/api/predict", method(http.MethodPost, h.Predict))

	// nudges and alerts
	r.Handle("/api/nudge/", method(http.MethodGet, func(w http.ResponseWriter, req *http.Request) {
		id, ok := pathParam(req.URL.Path, "/api/nudge/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.GetNudge(w, req, id)
	}))
	r.Handle("/api/alert", method(http.MethodPost, h.SendAlert))
	r.Handle("/api/alerts/", method(http.MethodGet, func(w http.ResponseWriter, req *http.Request) {
		id, ok := pathParam(req.URL.Path, "/api/alerts/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.ListAlerts(w, req, id)
	}))
}
