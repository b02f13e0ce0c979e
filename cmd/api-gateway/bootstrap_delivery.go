package main

import (
	"context"
	"time"

	config "github.com/NordCoder/Questline/internal/config/api-gateway"
	"github.com/NordCoder/Questline/internal/domain/notification"
	"github.com/NordCoder/Questline/internal/obs/retry"
	"github.com/NordCoder/Questline/internal/outbox"
	"github.com/NordCoder/Questline/internal/repository/kafka"
	pg "github.com/NordCoder/Questline/internal/repository/postgres"
	"github.com/NordCoder/Questline/internal/repository/rediscache"
	"github.com/NordCoder/Questline/internal/services/api-gateway/delivery"
	notifier "github.com/NordCoder/Questline/internal/services/email-notifier"
	"github.com/NordCoder/Questline/internal/services/email-notifier/repo"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type deliveryStack struct {
	Service *delivery.Service
	Prefs   *delivery.PreferenceService

	redis    *redis.Client
	async    *delivery.AsyncEmail
	runner   *outbox.Runner
	producer *kafka.Producer
}

func initDelivery(ctx context.Context, cfg *config.Config, db *pg.DB, rt *realtimeStack, logger *zap.Logger) (*deliveryStack, error) {
	st := &deliveryStack{}
	notifs := pg.NewNotificationRepo(db)

	var prefs notification.PreferenceRepo = pg.NewPreferenceRepo(db)
	if cfg.Cache.Enable {
		st.redis = rediscache.NewClient(cfg.Cache.Redis)
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := st.redis.Ping(pctx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unreachable; cache falls back to postgres per call", zap.Error(err))
		}
		prefs = rediscache.NewPreferenceCache(prefs, st.redis, cfg.Cache.Redis.TTL, logger)
	}

	var email delivery.EmailDispatcher
	switch cfg.Email.Mode {
	case config.EmailInline:
		tmpl, err := notifier.NewTemplates()
		if err != nil {
			return nil, err
		}
		h := &notifier.Handler{
			Users:     repo.UserReader{R: pg.NewUserRepo(db)},
			Store:     repo.NotificationStore{R: notifs},
			Out:       notifier.New(cfg.Email.SMTP, logger),
			Templates: tmpl,
			Log:       logger,
		}
		st.async = delivery.NewAsyncEmail(h, cfg.Email.Timeout, logger)
		email = st.async

	case config.EmailOutbox:
		ob := pg.NewOutboxRepo(db)
		email = delivery.NewOutboxEmail(ob, notification.SystemClock{}, logger)

		st.producer = kafka.NewProducer(cfg.Email.Kafka.Brokers, cfg.Email.Kafka.Topic).WithLogger(logger)
		dispatch := outbox.MakeGlobalOutboxHandler(kafka.NewEmailEventsKafka(st.producer), retry.HandoffPolicy(logger))
		oc := cfg.Email.Outbox
		st.runner = outbox.NewOutboxRunner(logger, ob, dispatch, oc.Workers, oc.BatchSize, oc.WaitTime, oc.InProgressTTL).
			WithRetention(oc.Retention, oc.PruneEvery)
		st.runner.Start(ctx)
	}

	tx := pg.NewTransactor(db, logger)
	st.Service = delivery.NewService(notifs, prefs, rt.Router, email, logger, delivery.WithTransactor(tx))
	st.Prefs = delivery.NewPreferenceService(prefs, tx, logger)
	logger.Info("delivery ready", zap.String("email_mode", cfg.Email.Mode), zap.Bool("preference_cache", cfg.Cache.Enable))
	return st, nil
}

// close must run after the root context is canceled so the outbox workers
// can exit.
func (st *deliveryStack) close() {
	if st.async != nil {
		st.async.Wait()
	}
	if st.runner != nil {
		st.runner.Wait()
	}
	if st.producer != nil {
		_ = st.producer.Close()
	}
	if st.redis != nil {
		_ = st.redis.Close()
	}
}
