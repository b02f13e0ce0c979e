package main

import (
	"net/http"
	"time"

	config "github.com/NordCoder/Questline/internal/config/api-gateway"
	"github.com/NordCoder/Questline/internal/obs"
	pg "github.com/NordCoder/Questline/internal/repository/postgres"
	"github.com/NordCoder/Questline/internal/services/api-gateway/notifications"
	"go.uber.org/zap"
)

func buildHTTPServer(cfg *config.Config, logger *zap.Logger, db *pg.DB, d *deliveryStack, rt *realtimeStack) *http.Server {
	h := notifications.NewHandler(d.Service, d.Prefs, rt.Manager, logger)
	router := notifications.NewRouter(h, notifications.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		Metrics:        obs.MetricsHandler(),
		Health:         obs.HealthHandler(db.Ping),
	})

	return &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           obs.HTTPHandler(router, "api-gateway"),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func serveHTTP(srv *http.Server, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
	return srv.ListenAndServe()
}
