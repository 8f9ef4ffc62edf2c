package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-micro/contract/errors"
	"github.com/next-trace/scg-micro/contract/transport"
)

// Concrete AMQP connection-backed constructor.

const (
	defaultExchange   = "micro"
	defaultExchangeTy = "topic"
	defaultPrefetch   = 32
)

type Config struct {
	URL         string
	ConnTimeout time.Duration
	// Exchange is the topic exchange endpoints bind to. Defaults to "micro".
	Exchange string
	// Prefetch bounds unacknowledged deliveries per consumer. Defaults to 32.
	Prefetch int
}

// Dial connects to RabbitMQ, opens a channel and declares the service exchange.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrConnectFailed)
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-micro"},
		Dial:       amqp.DefaultDial(cfg.ConnTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: rabbitmq dial: %w", berr.ErrConnectFailed, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("%w: rabbitmq channel: %w", berr.ErrConnectFailed, err)
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, fmt.Errorf("%w: rabbitmq qos: %w", berr.ErrConnectFailed, err)
	}

	t, err := New(ch, cfg.Exchange, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, err
	}

	t.conn = conn

	return t, nil
}

// Dialer returns a transport.Dialer using the first address handed over by the runner as the URL.
func Dialer(cfg Config, logger *slog.Logger) transport.Dialer {
	return func(ctx context.Context, addresses []string) (transport.Transport, error) {
		c := cfg
		if len(addresses) > 0 && strings.HasPrefix(addresses[0], "amqp") {
			c.URL = addresses[0]
		}

		t, err := Dial(ctx, c, logger)
		if err != nil {
			return nil, err
		}

		return t, nil
	}
}

// Close closes the channel and the connection.
func (t *Transport) Close() error {
	var errs []error

	if err := t.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, fmt.Errorf("rabbitmq close channel: %w", err))
	}

	if t.conn != nil {
		if err := t.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("rabbitmq close connection: %w", err))
		}
	}

	return errors.Join(errs...)
}
