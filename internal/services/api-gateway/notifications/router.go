package notifications

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_requests_total",
	Help: "HTTP requests by route pattern and status code.",
}, []string{"route", "method", "code"})

type RouterOptions struct {
	AllowedOrigins []string
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
	Metrics   http.Handler
	Health    http.HandlerFunc
}

func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(countRequests)

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	if opts.Health != nil {
		r.Get("/healthz", opts.Health)
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
		}

		r.Post("/notifications", h.Create)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/notifications", h.List)
			r.Get("/notifications/unread-count", h.UnreadCount)
			r.Post("/notifications/read-all", h.MarkAllRead)
			r.Post("/notifications/{notificationID}/read", h.MarkRead)

			r.Get("/preferences", h.ListPreferences)
			r.Patch("/preferences", h.UpdatePreferences)
			r.Post("/preferences/seed", h.SeedPreferences)
			r.Get("/preferences/{type}", h.GetPreference)
			r.Patch("/preferences/{type}", h.UpdatePreference)
		})

		r.Get("/realtime/status", h.RealtimeStatus)
		r.Post("/realtime/reconnect", h.RealtimeReconnect)
	})
	return r
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}
