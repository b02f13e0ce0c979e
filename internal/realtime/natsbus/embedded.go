package natsbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

type EmbeddedConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Embedded is an in-process NATS server for single-node deployments and
// tests.
type Embedded struct {
	srv *server.Server
}

func StartEmbedded(cfg EmbeddedConfig) (*Embedded, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	ns, err := server.NewServer(&server.Options{
		ServerName: "questline-realtime",
		Host:       cfg.Host,
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}
	return &Embedded{srv: ns}, nil
}

func (e *Embedded) ClientURL() string { return e.srv.ClientURL() }

func (e *Embedded) Shutdown() {
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}
