package api

import (
	"net/http"

	"floradrop/internal/config"
	fdmiddleware "floradrop/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter 构建 HTTP 路由，集中注册所有对外服务的端点。
func NewRouter(cfg *config.Config, photoHandler *PhotoHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(fdmiddleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(fdmiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
	r.Use(fdmiddleware.Metrics())

	// 健康检查不需要鉴权
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus 指标端点
	r.Handle("/metrics", promhttp.Handler())

	if photoHandler != nil {
		switch {
		case cfg.JWTEnabled:
			r.Group(func(r chi.Router) {
				r.Use(fdmiddleware.JWTAuth(cfg.JWKSURL, cfg.JWTSecret))
				photoHandler.RegisterRoutes(r)
			})
		case cfg.AuthEnabled:
			r.Group(func(r chi.Router) {
				r.Use(fdmiddleware.APIKeyAuth(cfg.APIKeys))
				photoHandler.RegisterRoutes(r)
			})
		default:
			// 无需鉴权（开发模式）
			photoHandler.RegisterRoutes(r)
		}
	}

	return r
}
