package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-curbside/internal/middleware"
	"github.com/technosupport/ts-curbside/internal/ratelimit"
)

type RouterConfig struct {
	Alerts *AlertHandler
	Cards  *CardActionHandler
	Feed   *FeedHandler
	Health *HealthHandler
	// Limiter throttles /card_action when set.
	Limiter   middleware.Limiter
	CardLimit ratelimit.LimitConfig
	// RequestTimeout bounds /card_action. Zero disables it. /webhook answers when
	// its run finishes and is never cut short.
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)

	if cfg.Alerts != nil {
		r.Method(http.MethodPost, "/webhook", cfg.Alerts)
	}

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimw.Timeout(cfg.RequestTimeout))
		}
		if cfg.Cards != nil {
			r.With(middleware.RateLimit(cfg.Limiter, "card_action", cfg.CardLimit)).
				Method(http.MethodPost, "/card_action", cfg.Cards)
		}
	})

	if cfg.Feed != nil {
		r.Get("/api/v1/runs/feed", cfg.Feed.ServeWS)
	}
	if cfg.Health != nil {
		r.Method(http.MethodGet, "/healthz", cfg.Health)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
