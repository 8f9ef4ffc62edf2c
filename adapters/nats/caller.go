package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	berr "github.com/next-trace/scg-micro/contract/errors"
)

// Requester is the request/reply subset of *nats.Conn used by Caller.
type Requester interface {
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
}

// Caller invokes endpoints of services hosted on NATS.
type Caller struct {
	Client Requester
}

// NewCaller creates a Caller over the provided client, usually a *nats.Conn.
func NewCaller(c Requester) *Caller { return &Caller{Client: c} }

// Call sends payload to <service>.<endpoint> and returns the response bytes.
// An error reply from the service is returned as a *errors.StatusError joined with ErrCallFailed.
func (c *Caller) Call(
	ctx context.Context,
	service, endpoint string,
	payload []byte,
	headers map[string]string,
) ([]byte, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}

	msg := &nats.Msg{Subject: Subject(service, endpoint), Data: payload}
	if len(headers) > 0 {
		msg.Header = nats.Header{}
		for k, v := range headers {
			msg.Header.Set(k, v)
		}
	}

	resp, err := c.Client.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		return nil, fmt.Errorf("nats call %s: %w", msg.Subject, errors.Join(berr.ErrCallFailed, err))
	}

	if code := resp.Header.Get(micro.ErrorCodeHeader); code != "" {
		se := &berr.StatusError{Code: code, Description: resp.Header.Get(micro.ErrorHeader)}

		return resp.Data, fmt.Errorf("nats call %s: %w", msg.Subject, errors.Join(berr.ErrCallFailed, se))
	}

	return resp.Data, nil
}

// CallJSON serializes v as JSON and calls the endpoint with it.
func (c *Caller) CallJSON(
	ctx context.Context,
	service, endpoint string,
	v any,
	headers map[string]string,
) ([]byte, error) {
	body, err := mustJSON(v)
	if err != nil {
		return nil, fmt.Errorf("nats call serialize: %w", errors.Join(berr.ErrCallFailed, err))
	}

	return c.Call(ctx, service, endpoint, body, headers)
}

func (c *Caller) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.Client == nil {
		return fmt.Errorf("nats call: %w", berr.ErrCallFailed)
	}

	return nil
}

// Subject is the subject an endpoint listens on: the service group followed by the endpoint name.
func Subject(service, endpoint string) string { return service + "." + endpoint }

func mustJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return b, nil
}
