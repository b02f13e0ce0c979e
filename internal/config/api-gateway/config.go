package api_gateway_config

import (
	"time"

	notifiercfg "github.com/NordCoder/Questline/internal/config/email-notifier"
	"github.com/NordCoder/Questline/internal/obs"
	"github.com/NordCoder/Questline/internal/realtime/natsbus"
	"github.com/NordCoder/Questline/internal/realtime/wsclient"
	pg "github.com/NordCoder/Questline/internal/repository/postgres"
	"github.com/NordCoder/Questline/internal/repository/rediscache"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RateLimit       int           `mapstructure:"rate_limit"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (oc *OTEL) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: oc.ServiceName,
		SampleRatio: oc.SampleRatio,
	}
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

const (
	TransportWS           = "ws"
	TransportNATS         = "nats"
	TransportNATSEmbedded = "nats-embedded"
	TransportNone         = "none"
)

type Realtime struct {
	Transport   string                 `mapstructure:"transport"`
	BaseDelay   time.Duration          `mapstructure:"base_delay"`
	MaxAttempts int                    `mapstructure:"max_attempts"`
	WS          wsclient.Config        `mapstructure:"ws"`
	NATS        natsbus.Config         `mapstructure:"nats"`
	Embedded    natsbus.EmbeddedConfig `mapstructure:"embedded"`
}

const (
	EmailInline = "inline"
	EmailOutbox = "outbox"
	EmailOff    = "off"
)

type Email struct {
	Mode    string           `mapstructure:"mode"`
	Timeout time.Duration    `mapstructure:"timeout"`
	SMTP    notifiercfg.SMTP `mapstructure:"smtp"`
	Outbox  Outbox           `mapstructure:"outbox"`
	Kafka   KafkaOut         `mapstructure:"kafka"`
}

type Outbox struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	WaitTime      time.Duration `mapstructure:"wait_time"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneEvery    time.Duration `mapstructure:"prune_every"`
}

type KafkaOut struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type Cache struct {
	Enable bool              `mapstructure:"enable"`
	Redis  rediscache.Config `mapstructure:"redis"`
}

type Config struct {
	App      App       `mapstructure:"app"`
	Server   Server    `mapstructure:"server"`
	DB       pg.Config `mapstructure:"db"`
	OTEL     OTEL      `mapstructure:"otel"`
	Log      Log       `mapstructure:"log"`
	Realtime Realtime  `mapstructure:"realtime"`
	Email    Email     `mapstructure:"email"`
	Cache    Cache     `mapstructure:"cache"`
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
