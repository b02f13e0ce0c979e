package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/NordCoder/Questline/internal/config/email-notifier"
	"github.com/NordCoder/Questline/internal/obs"
	"github.com/NordCoder/Questline/internal/repository/kafka"
	pg "github.com/NordCoder/Questline/internal/repository/postgres"
	notifier "github.com/NordCoder/Questline/internal/services/email-notifier"
	"github.com/NordCoder/Questline/internal/services/email-notifier/repo"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func wiring(db *pg.DB, cfg *config.Config, cons *kafka.Consumer, l *zap.Logger) (*notifier.Controller, error) {
	tmpl, err := notifier.NewTemplates()
	if err != nil {
		return nil, err
	}
	users := pg.NewUserRepo(db)
	notifs := pg.NewNotificationRepo(db)
	mailer := notifier.New(cfg.SMTP, l)

	uc := &notifier.Handler{
		Users:     repo.UserReader{R: users},
		Store:     repo.NotificationStore{R: notifs},
		Out:       mailer,
		Templates: tmpl,
		Log:       l,
	}

	return &notifier.Controller{Log: l, Sub: cons, UC: uc}, nil
}

func main() {
	// init
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, err := config.Load(os.Getenv("EMAIL_NOTIFIER_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	l.Info("starting email-notifier",
		zap.Any("kafka_in", cfg.In),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
		zap.String("smtp_addr", cfg.SMTP.Addr),
	)

	// otel
	otelCloser, err := obs.SetupOTel(rootCtx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.New(rootCtx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	l.Info("db connected")
	if err := db.RegisterPoolMetrics(prometheus.DefaultRegisterer, "questline"); err != nil {
		l.Warn("pool metrics", zap.Error(err))
	}

	// metrics
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, db.Ping, l)

	// kafka
	consCfg := cfg.In.AsConsumerConfig()
	consCfg.Logger = l
	cons := kafka.BootstrapConsumer(rootCtx, consCfg, l)
	defer func() { _ = cons.Close() }()
	l.Info("kafka consumer initialized",
		zap.Strings("brokers", cfg.In.Brokers),
		zap.String("group_id", cfg.In.GroupID),
		zap.String("topic", cfg.In.Topic),
	)

	// start
	ctrl, err := wiring(db, cfg, cons, l)
	if err != nil {
		l.Fatal("wiring", zap.Error(err))
	}
	errCh := make(chan error, 1)
	go func() {
		l.Info("controller starting")
		errCh <- ctrl.Run(rootCtx)
	}()

	// main loop
	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case runErr := <-errCh:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			l.Error("controller error", zap.Error(runErr))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
