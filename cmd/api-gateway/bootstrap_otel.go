package main

import (
	"context"

	config "github.com/NordCoder/Questline/internal/config/api-gateway"
	"github.com/NordCoder/Questline/internal/obs"
)

func initOTel(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	oc := cfg.OTEL.AsOTELConfig()
	oc.Version = cfg.App.Version
	oc.Env = cfg.App.Env
	closer, err := obs.SetupOTel(ctx, oc)
	if err != nil {
		return nil, err
	}
	return closer.Shutdown, nil
}
