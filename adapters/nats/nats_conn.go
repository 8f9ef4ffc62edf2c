package nats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-micro/contract/errors"
	"github.com/next-trace/scg-micro/contract/transport"
)

// Concrete NATS connection-backed transport and constructors.

type Config struct {
	Servers       []string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
	// QueueGroup overrides the micro default queue group shared by service instances.
	QueueGroup string
}

// Dial connects to NATS and returns a Transport hosting micro services on that connection.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("%w: nats servers required", berr.ErrConnectFailed)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	opts := []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: nats connect: %w", berr.ErrConnectFailed, err)
	}

	return newTransport(nc, cfg, logger), nil
}

// Dialer returns a transport.Dialer connecting to the addresses handed over by the runner.
func Dialer(cfg Config, logger *slog.Logger) transport.Dialer {
	return func(ctx context.Context, addresses []string) (transport.Transport, error) {
		c := cfg
		if len(addresses) > 0 {
			c.Servers = addresses
		}

		t, err := Dial(ctx, c, logger)
		if err != nil {
			return nil, err
		}

		return t, nil
	}
}

// Close flushes pending replies and closes the connection.
func (t *Transport) Close() error {
	nc := t.nc
	if nc == nil || nc.IsClosed() {
		return nil
	}

	err := nc.Flush()
	if errors.Is(err, nats.ErrConnectionClosed) {
		err = nil
	}

	nc.Close()

	return err
}
