package nats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	berr "github.com/next-trace/scg-micro/contract/errors"
	"github.com/next-trace/scg-micro/contract/transport"
)

// Transport implements transport.Transport on top of the NATS micro framework.
// Every inbound request is handled on its own goroutine; Service.Stop waits for them.
type Transport struct {
	nc         *nats.Conn
	queueGroup string
	logger     *slog.Logger

	// addService is micro.AddService bound to nc; replaced in tests.
	addService func(cfg micro.Config) (micro.Service, error)
}

// Ensure Transport implements the contract.
var _ transport.Transport = (*Transport)(nil)

func newTransport(nc *nats.Conn, cfg Config, logger *slog.Logger) *Transport {
	return &Transport{
		nc:         nc,
		queueGroup: cfg.QueueGroup,
		logger:     logger,
		addService: func(mc micro.Config) (micro.Service, error) { return micro.AddService(nc, mc) },
	}
}

// NewWithMicro builds a Transport around a custom service constructor. It is meant for
// embedding the kit into code that manages its own connection.
func NewWithMicro(add func(cfg micro.Config) (micro.Service, error), logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Transport{addService: add, logger: logger}
}

// Conn returns the underlying connection, or nil.
func (t *Transport) Conn() *nats.Conn { return t.nc }

func (t *Transport) AddService(ctx context.Context, cfg transport.ServiceConfig) (transport.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	svc, err := t.addService(micro.Config{
		Name:        cfg.Name,
		Version:     cfg.Version,
		Description: cfg.Description,
		Metadata:    cfg.Metadata,
		QueueGroup:  t.queueGroup,
	})
	if err != nil {
		return nil, fmt.Errorf("nats add service %s: %w: %w", cfg.Name, berr.ErrRegisterFailed, err)
	}

	return &service{
		svc:    svc,
		name:   cfg.Name,
		ctx:    context.WithoutCancel(ctx),
		logger: t.logger,
	}, nil
}

type service struct {
	svc    micro.Service
	name   string
	ctx    context.Context
	logger *slog.Logger

	// in-flight handler goroutines
	wg sync.WaitGroup
}

func (s *service) AddGroup(name string) transport.Group {
	return &group{svc: s, grp: s.svc.AddGroup(name), prefix: name}
}

// Stop unsubscribes every endpoint, then waits for in-flight handlers.
func (s *service) Stop() error {
	err := s.svc.Stop()
	s.wg.Wait()

	if err != nil {
		return fmt.Errorf("nats stop service %s: %w", s.name, err)
	}

	return nil
}

type group struct {
	svc    *service
	grp    micro.Group
	prefix string
}

func (g *group) AddEndpoint(name string, h transport.Handler) error {
	s := g.svc

	handler := micro.HandlerFunc(func(r micro.Request) {
		s.wg.Add(1)

		go func() {
			defer s.wg.Done()
			s.serve(h, r)
		}()
	})

	if err := g.grp.AddEndpoint(name, handler); err != nil {
		return fmt.Errorf("nats add endpoint %s.%s: %w: %w", g.prefix, name, berr.ErrRegisterFailed, err)
	}

	return nil
}

// serve runs the handler and turns a returned error into a micro error reply.
func (s *service) serve(h transport.Handler, r micro.Request) {
	req := &request{r: r}

	err := h.Handle(s.ctx, req)
	if err == nil {
		return
	}

	code, desc := berr.Status(err)
	s.logger.Error("nats handler failed", "service", s.name, "subject", r.Subject(), "code", code, "err", err)

	if rerr := r.Error(code, desc, nil); rerr != nil {
		s.logger.Error("nats error reply failed", "service", s.name, "subject", r.Subject(), "err", rerr)
	}
}

// request adapts micro.Request to transport.Request.
type request struct{ r micro.Request }

var _ transport.Request = (*request)(nil)

func (q *request) Data() []byte                 { return q.r.Data() }
func (q *request) Subject() string              { return q.r.Subject() }
func (q *request) Headers() map[string][]string { return q.r.Headers() }
func (q *request) Respond(data []byte) error    { return q.r.Respond(data) }

func (q *request) Error(code, description string, data []byte) error {
	return q.r.Error(code, description, data)
}
