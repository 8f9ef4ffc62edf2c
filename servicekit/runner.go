package servicekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	berr "github.com/next-trace/scg-micro/contract/errors"
	"github.com/next-trace/scg-micro/contract/transport"
)

// DefaultAddress is used when no transport address is given.
const DefaultAddress = "nats://localhost:4222"

// Runner owns the transport connection: it dials, builds every service, waits for shutdown
// and tears down in reverse order.
type Runner struct {
	registry       *Registry
	dial           transport.Dialer
	defaultAddress string
	onReady        func([]string)
	logger         *slog.Logger
}

// RunnerOption configures a Runner instance.
type RunnerOption func(*Runner)

// WithDefaultAddress overrides DefaultAddress.
func WithDefaultAddress(addr string) RunnerOption {
	return func(r *Runner) { r.defaultAddress = addr }
}

// WithReadyHook is called with the started service names once all services are built.
func WithReadyHook(fn func(services []string)) RunnerOption {
	return func(r *Runner) { r.onReady = fn }
}

// NewRunner constructs a Runner for the services of r using dial to open the transport.
func NewRunner(r *Registry, dial transport.Dialer, opts ...RunnerOption) *Runner {
	rn := &Runner{
		registry:       r,
		dial:           dial,
		defaultAddress: DefaultAddress,
		logger:         r.logger,
	}

	for _, o := range opts {
		o(rn)
	}

	return rn
}

// NormalizeAddresses splits comma-separated entries, trims blanks and drops empties.
// When nothing is left the result is the single fallback address.
func NormalizeAddresses(addresses []string, fallback string) []string {
	out := make([]string, 0, len(addresses))

	for _, a := range addresses {
		for _, part := range strings.Split(a, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}

	if len(out) == 0 && fallback != "" {
		out = append(out, fallback)
	}

	return out
}

// Run dials the transport, builds all services and blocks until ctx is done.
// On the way out services are stopped, draining in-flight handlers, before the transport is closed.
func (r *Runner) Run(ctx context.Context, addresses ...string) (err error) {
	addrs := NormalizeAddresses(addresses, r.defaultAddress)

	t, err := r.dial(ctx, addrs)
	if err != nil {
		if !errors.Is(err, berr.ErrConnectFailed) {
			err = errors.Join(berr.ErrConnectFailed, err)
		}

		return fmt.Errorf("run: %w", err)
	}

	r.logger.InfoContext(ctx, "transport connected", "addresses", addrs)

	defer func() {
		if cerr := t.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close transport: %w", cerr))
		}

		r.logger.Info("transport closed")
	}()

	dep, err := NewBuilder(r.registry).Build(ctx, t)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	defer func() {
		if serr := dep.Stop(); serr != nil {
			err = errors.Join(err, serr)
		}
	}()

	if r.onReady != nil {
		r.onReady(dep.Services())
	}

	<-ctx.Done()
	r.logger.Info("shutting down", "services", len(dep.Services()))

	return nil
}
