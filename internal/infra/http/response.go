package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// Envelope тело ответа: success, data, cached и дополнительные секции.
type Envelope map[string]any

// Success собирает успешный ответ.
func Success(data any, cached bool) Envelope {
	return Envelope{"success": true, "data": data, "cached": cached}
}

// With добавляет секцию вроде pagination или date_info.
func (e Envelope) With(key string, v any) Envelope {
	e[key] = v
	return e
}

// WriteJSON отправляет JSON с заданным статусом.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError отправляет {"success": false, "message": ...}.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]any{"success": false, "message": msg})
}
