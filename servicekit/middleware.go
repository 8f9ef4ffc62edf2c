package servicekit

import (
	"context"
	"log/slog"
	"time"

	"github.com/next-trace/scg-micro/contract/transport"
)

// Invoker is the uniform capability every endpoint exposes once bound to its service.
type Invoker func(ctx context.Context, req transport.Request) (Result, error)

// Middleware wraps endpoint invocation. Middlewares are executed in registration order.
type Middleware func(next Invoker) Invoker

// EndpointInfo identifies the endpoint being invoked.
type EndpointInfo struct {
	Service  string
	Version  string
	Endpoint string
	Subject  string
}

type endpointKey struct{}

func withEndpoint(ctx context.Context, info EndpointInfo) context.Context {
	return context.WithValue(ctx, endpointKey{}, info)
}

// EndpointFromContext returns the endpoint being invoked, when called from a handler or middleware.
func EndpointFromContext(ctx context.Context) (EndpointInfo, bool) {
	info, ok := ctx.Value(endpointKey{}).(EndpointInfo)

	return info, ok
}

// Chain composes middlewares around an invoker so that the first one runs first.
func Chain(final Invoker, mws ...Middleware) Invoker {
	for i := len(mws) - 1; i >= 0; i-- {
		final = mws[i](final)
	}

	return final
}

// Logging logs every invocation at debug level and failures at error level.
func Logging(logger *slog.Logger) Middleware {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, req transport.Request) (Result, error) {
			info, _ := EndpointFromContext(ctx)
			start := time.Now()

			res, err := next(ctx, req)
			if err != nil {
				logger.ErrorContext(ctx, "endpoint failed",
					"service", info.Service, "endpoint", info.Endpoint, "err", err)

				return res, err
			}

			logger.DebugContext(ctx, "endpoint invoked",
				"service", info.Service,
				"endpoint", info.Endpoint,
				"result", res.Kind().String(),
				"bytes", len(res.Data()),
				"elapsed", time.Since(start))

			return res, nil
		}
	}
}
