package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// OwnerContextKey 是存储在 context 中的 owner ID 的键。
type OwnerContextKey struct{}

// APIKeyAuth 创建 API Key 鉴权中间件，期望请求头
// Authorization: ApiKey <token>。比较使用常数时间算法，
// 通过后把密钥作为 owner ID 写入 context。
func APIKeyAuth(validKeys []string) func(http.Handler) http.Handler {
	keys := make([][]byte, 0, len(validKeys))
	for _, key := range validKeys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keys = append(keys, []byte(trimmed))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r, "ApiKey")
			if !ok {
				writeAuthError(w, "missing or malformed Authorization header, expected: ApiKey <token>")
				return
			}

			if !matchKey(keys, token) {
				writeAuthError(w, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), OwnerContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken 解析 Authorization 头并校验凭据方案。
func bearerToken(r *http.Request, scheme string) (string, bool) {
	header := r.Header.Get("Authorization")
	got, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(got, scheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func matchKey(keys [][]byte, token string) bool {
	candidate := []byte(token)
	for _, key := range keys {
		if subtle.ConstantTimeCompare(key, candidate) == 1 {
			return true
		}
	}
	return false
}

// GetOwnerID 从 context 中获取经过鉴权的 owner ID。
func GetOwnerID(ctx context.Context) string {
	if v, ok := ctx.Value(OwnerContextKey{}).(string); ok {
		return v
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `ApiKey realm="floradrop API"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
