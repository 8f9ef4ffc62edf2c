package servicekit

import (
	"context"
	"errors"
	"fmt"

	berr "github.com/next-trace/scg-micro/contract/errors"
	"github.com/next-trace/scg-micro/contract/transport"
)

// Dispatcher is the live transport handler of one endpoint: it runs the middleware chain around
// EndpointDefinition.Invoke and sends the payload result, if any.
type Dispatcher struct {
	info   EndpointInfo
	invoke Invoker
}

var _ transport.Handler = (*Dispatcher)(nil)

// Dispatcher binds the endpoint into a transport handler. The group name is the service name.
func (e *EndpointDefinition) Dispatcher(mws ...Middleware) *Dispatcher {
	return &Dispatcher{
		info: EndpointInfo{
			Service:  e.service.name,
			Version:  e.service.version,
			Endpoint: e.name,
			Subject:  e.service.name + "." + e.name,
		},
		invoke: Chain(e.Invoke, mws...),
	}
}

// Info returns the identity of the dispatched endpoint.
func (d *Dispatcher) Info() EndpointInfo { return d.info }

// Handle processes one request. Conversion and handler errors are returned unchanged for the
// adapter to turn into an error reply.
func (d *Dispatcher) Handle(ctx context.Context, req transport.Request) error {
	ctx = withEndpoint(ctx, d.info)

	res, err := d.invoke(ctx, req)
	if err != nil {
		return err
	}

	if res.Kind() != ResultPayload {
		return nil
	}

	if err := req.Respond(res.Data()); err != nil {
		return fmt.Errorf("respond %s: %w", d.info.Subject, errors.Join(berr.ErrRespondFailed, err))
	}

	return nil
}
