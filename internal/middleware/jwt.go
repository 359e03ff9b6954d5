package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWTAuth 创建 JWT 鉴权中间件。
// 提供 jwksURL 时通过远程 JWKS 公钥验证签名，
// 否则退回到 HMAC 共享密钥。验证通过后把 sub 作为 owner ID 存入 context。
func JWTAuth(jwksURL, hmacSecret string) func(http.Handler) http.Handler {
	var jwks *keyfunc.JWKS
	if jwksURL != "" {
		var err error
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshInterval:  time.Hour,
			RefreshRateLimit: time.Minute,
			RefreshErrorHandler: func(err error) {
				// 刷新失败时继续使用缓存的密钥集
			},
		})
		if err != nil {
			jwks = nil
		}
	}

	keyFunc := func(token *jwt.Token) (any, error) {
		if jwks != nil {
			return jwks.Keyfunc(token)
		}
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(hmacSecret), nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r, "Bearer")
			if !ok {
				writeAuthError(w, "missing or malformed Authorization header, expected: Bearer <token>")
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, keyFunc)
			if err != nil || !token.Valid {
				writeAuthError(w, "invalid token")
				return
			}

			sub, _ := claims.GetSubject()
			if sub == "" {
				writeAuthError(w, "token has no subject")
				return
			}

			ctx := context.WithValue(r.Context(), OwnerContextKey{}, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
