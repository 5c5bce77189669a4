package http

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyHeader заголовок с ключом доступа.
const APIKeyHeader = "X-API-Key"

// APIKeyMiddleware пропускает запросы с ключом в заголовке X-API-Key или
// в параметре api_key. Пустой ключ отключает проверку.
func APIKeyMiddleware(key string) func(http.Handler) http.Handler {
	expected := []byte(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(APIKeyHeader)
			if got == "" {
				got = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				WriteError(w, http.StatusUnauthorized, "Invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
