package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cardiotwin/internal/engine"
	"cardiotwin/internal/service"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// pathParam 取前缀之后的单段路径参数，如 /api/score/{id}
func pathParam(path, prefix string) (string, bool) {
	id := strings.TrimPrefix(path, prefix)
	if id == "" || id == path || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// writeError 按错误类型映射 HTTP 状态码
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, engine.ErrInsufficientData),
		errors.Is(err, engine.ErrInvalidHorizon):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrSessionNotFound),
		errors.Is(err, service.ErrNoData):
		status = http.StatusNotFound
	}
	writeJSON(w, status, Fail(err.Error()))
}
