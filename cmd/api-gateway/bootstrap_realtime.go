package main

import (
	"context"

	config "github.com/NordCoder/Questline/internal/config/api-gateway"
	domain "github.com/NordCoder/Questline/internal/domain/realtime"
	"github.com/NordCoder/Questline/internal/realtime"
	"github.com/NordCoder/Questline/internal/realtime/natsbus"
	"github.com/NordCoder/Questline/internal/realtime/wsclient"
	"go.uber.org/zap"
)

type realtimeStack struct {
	Manager  *realtime.Manager
	Router   *realtime.Router
	embedded *natsbus.Embedded
}

func initRealtime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*realtimeStack, error) {
	rc := cfg.Realtime
	st := &realtimeStack{}

	var transport domain.Transport
	switch rc.Transport {
	case config.TransportWS:
		transport = wsclient.New(rc.WS, logger)
	case config.TransportNATS:
		transport = natsbus.New(rc.NATS, logger)
	case config.TransportNATSEmbedded:
		srv, err := natsbus.StartEmbedded(rc.Embedded)
		if err != nil {
			return nil, err
		}
		st.embedded = srv
		nc := rc.NATS
		nc.URL = srv.ClientURL()
		transport = natsbus.New(nc, logger)
		logger.Info("embedded nats started", zap.String("url", nc.URL))
	}

	st.Manager = realtime.NewManager(transport, logger,
		realtime.WithBaseDelay(rc.BaseDelay),
		realtime.WithMaxAttempts(rc.MaxAttempts),
	)
	st.Manager.OnStatusChange(func(s domain.Status) {
		logger.Info("realtime status", zap.String("status", string(s)))
	})

	st.Router = realtime.NewRouter(st.Manager, logger)
	st.Router.OnActivity(func(ev domain.ActivityEvent) {
		logger.Debug("activity", zap.String("id", ev.ID), zap.String("type", string(ev.Type)))
	})
	st.Router.OnLeaderboardUpdate(func(u domain.LeaderboardUpdate) {
		logger.Debug("leaderboard update", zap.String("user_id", u.UserID), zap.Int("rank", u.Rank))
	})

	if err := st.Manager.Connect(ctx); err != nil {
		st.close(context.Background())
		return nil, err
	}
	st.Router.Initialize(ctx, "")
	return st, nil
}

func (st *realtimeStack) close(ctx context.Context) {
	st.Router.Cleanup(ctx)
	_ = st.Manager.Disconnect(ctx)
	if st.embedded != nil {
		st.embedded.Shutdown()
	}
}
