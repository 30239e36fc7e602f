package httpapi

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/MrEthical07/authbridge/middleware"
	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Config wires [NewRouter]. Metrics, when non-nil, is mounted at /metrics.
// A nil GateRules uses [middleware.DefaultRules]. Forwarding headers are
// ignored unless the socket peer falls inside TrustedProxies.
type Config struct {
	Service       Service
	Logger        zerolog.Logger
	Cookie        CookieConfig
	RateLimit     RateLimitConfig
	GateRules     []middleware.PathRule
	Metrics       http.Handler
	IsDevelopment bool

	TrustedProxies []netip.Prefix
}

// DefaultRateLimit allows 30 requests per minute per IP on /auth routes.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 30, Window: time.Minute, Burst: 10}
}

func NewRouter(cfg Config) http.Handler {
	cookies := cfg.Cookie
	if cookies.Name == "" {
		cookies = defaultCookieConfig()
	}
	h := newHandler(cfg.Service, cookies, cfg.Logger)

	r := chi.NewRouter()
	r.Use(chimid.RequestID)
	r.Use(clientContext(cfg.TrustedProxies))
	r.Use(requestLogger(cfg.Logger))
	r.Use(sentryHub)
	r.Use(recoverer(cfg.Logger))
	r.Use(secureHeaders(cfg.IsDevelopment))
	r.Use(chimid.AllowContentType("application/json"))
	r.Use(middleware.Gate(cfg.Service, middleware.GateConfig{Rules: cfg.GateRules, Logger: cfg.Logger}))

	r.Get("/healthz", h.healthz)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(rateLimitByIP(cfg.RateLimit, cfg.Logger))
		r.Post("/sign-in", h.signIn)
		r.Post("/refresh", h.refresh)
		r.Post("/sign-out", h.signOut)
		r.Post("/migrate", h.migrate)
		r.Post("/external", h.external)
	})

	r.Route("/me", func(r chi.Router) {
		r.Get("/", h.me)
		r.Post("/totp/setup", h.totpSetup)
		r.Post("/totp/confirm", h.totpConfirm)
		r.Delete("/totp", h.totpDisable)
	})

	return r
}
