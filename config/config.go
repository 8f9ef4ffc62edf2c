// Package config loads service host settings from the environment and builds the logger
// and transport dialer they describe.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Transport names accepted in SCG_MICRO_TRANSPORT.
const (
	TransportNATS     = "nats"
	TransportRabbitMQ = "rabbitmq"
	TransportKafka    = "kafka"
	TransportInMemory = "inmemory"
)

// Config holds the runtime settings of a service host.
type Config struct {
	Transport     string        `env:"SCG_MICRO_TRANSPORT"      envDefault:"nats"`
	Servers       []string      `env:"SCG_MICRO_SERVERS"        envSeparator:","`
	Name          string        `env:"SCG_MICRO_NAME"           envDefault:"scg-micro"`
	ConnTimeout   time.Duration `env:"SCG_MICRO_CONN_TIMEOUT"   envDefault:"5s"`
	MaxReconnects int           `env:"SCG_MICRO_MAX_RECONNECTS" envDefault:"60"`
	QueueGroup    string        `env:"SCG_MICRO_QUEUE_GROUP"`
	AMQPExchange  string        `env:"SCG_MICRO_AMQP_EXCHANGE"  envDefault:"micro"`
	AMQPPrefetch  int           `env:"SCG_MICRO_AMQP_PREFETCH"  envDefault:"32"`
	KafkaGroup    string        `env:"SCG_MICRO_KAFKA_GROUP"    envDefault:"scg-micro"`
	LogLevel      string        `env:"SCG_MICRO_LOG_LEVEL"      envDefault:"info"`
	LogFormat     string        `env:"SCG_MICRO_LOG_FORMAT"     envDefault:"text"`
	MetricsAddr   string        `env:"SCG_MICRO_METRICS_ADDR"`
	OTelEndpoint  string        `env:"SCG_MICRO_OTEL_ENDPOINT"`
}

// ParseEnv parses environment variables into target using env struct tags.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	return nil
}

// Load reads optional dotenv files, then parses Config from the environment.
// Missing files are skipped; variables already set in the environment win.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
