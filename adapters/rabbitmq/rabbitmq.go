package rabbitmq

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-micro/contract/errors"
	"github.com/next-trace/scg-micro/contract/transport"
)

// Reply headers set on error replies.
const (
	ErrorHeader     = "Micro-Error"
	ErrorCodeHeader = "Micro-Error-Code"
)

// Channel is the subset of *amqp.Channel used by the transport.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Transport implements transport.Transport over one AMQP channel.
type Transport struct {
	ch       Channel
	conn     io.Closer
	exchange string
	logger   *slog.Logger

	// serializes publishes on the shared channel
	pubMu sync.Mutex
}

// Ensure Transport implements the contract.
var _ transport.Transport = (*Transport)(nil)

// New creates a transport over an open channel and declares the service exchange.
func New(ch Channel, exchange string, logger *slog.Logger) (*Transport, error) {
	if ch == nil {
		return nil, fmt.Errorf("%w: rabbitmq channel required", berr.ErrConnectFailed)
	}

	if exchange == "" {
		exchange = defaultExchange
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := ch.ExchangeDeclare(exchange, defaultExchangeTy, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("%w: rabbitmq declare exchange %s: %w", berr.ErrConnectFailed, exchange, err)
	}

	return &Transport{ch: ch, exchange: exchange, logger: logger}, nil
}

func (t *Transport) AddService(ctx context.Context, cfg transport.ServiceConfig) (transport.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &service{t: t, name: cfg.Name, ctx: context.WithoutCancel(ctx)}, nil
}

func (t *Transport) publish(ctx context.Context, key string, msg amqp.Publishing) error {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	return t.ch.PublishWithContext(ctx, "", key, false, false, msg)
}

type service struct {
	t    *Transport
	name string
	ctx  context.Context

	mu        sync.Mutex
	consumers []string

	loops    sync.WaitGroup // delivery loops, one per endpoint
	inflight sync.WaitGroup // handler goroutines
}

func (s *service) AddGroup(name string) transport.Group { return &group{svc: s, prefix: name} }

// Stop cancels every consumer, waits for the delivery loops to end and for in-flight handlers.
func (s *service) Stop() error {
	s.mu.Lock()
	consumers := s.consumers
	s.consumers = nil
	s.mu.Unlock()

	var firstErr error

	for _, tag := range consumers {
		if err := s.t.ch.Cancel(tag, false); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("rabbitmq cancel %s: %w", tag, err)
		}
	}

	s.loops.Wait()
	s.inflight.Wait()

	return firstErr
}

type group struct {
	svc    *service
	prefix string
}

func (g *group) AddEndpoint(name string, h transport.Handler) error {
	s := g.svc
	key := name
	if g.prefix != "" {
		key = g.prefix + "." + name
	}

	// one shared queue per endpoint, so instances of a service share the load
	if _, err := s.t.ch.QueueDeclare(key, false, true, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq declare queue %s: %w", key, fmt.Errorf("%w: %w", berr.ErrRegisterFailed, err))
	}

	if err := s.t.ch.QueueBind(key, key, s.t.exchange, false, nil); err != nil {
		return fmt.Errorf("rabbitmq bind queue %s: %w", key, fmt.Errorf("%w: %w", berr.ErrRegisterFailed, err))
	}

	tag := key + "-" + uuid.NewString()

	deliveries, err := s.t.ch.Consume(key, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume %s: %w", key, fmt.Errorf("%w: %w", berr.ErrRegisterFailed, err))
	}

	s.mu.Lock()
	s.consumers = append(s.consumers, tag)
	s.mu.Unlock()

	s.loops.Add(1)

	go func() {
		defer s.loops.Done()

		for d := range deliveries {
			s.inflight.Add(1)

			go func(d amqp.Delivery) {
				defer s.inflight.Done()
				s.serve(h, d)
			}(d)
		}
	}()

	return nil
}

// serve runs the handler, turns a returned error into an error reply and acknowledges the delivery.
func (s *service) serve(h transport.Handler, d amqp.Delivery) {
	req := &request{t: s.t, d: d, ctx: s.ctx}

	if err := h.Handle(s.ctx, req); err != nil {
		code, desc := berr.Status(err)
		s.t.logger.Error("rabbitmq handler failed", "service", s.name, "routing_key", d.RoutingKey, "code", code, "err", err)

		if rerr := req.Error(code, desc, nil); rerr != nil {
			s.t.logger.Error("rabbitmq error reply failed", "service", s.name, "err", rerr)
		}
	}

	if err := d.Ack(false); err != nil {
		s.t.logger.Warn("rabbitmq ack failed", "service", s.name, "err", err)
	}
}

// request adapts an amqp.Delivery to transport.Request.
type request struct {
	t   *Transport
	d   amqp.Delivery
	ctx context.Context
}

var _ transport.Request = (*request)(nil)

func (q *request) Data() []byte    { return q.d.Body }
func (q *request) Subject() string { return q.d.RoutingKey }

func (q *request) Headers() map[string][]string {
	h := make(map[string][]string, len(q.d.Headers))
	for k, v := range q.d.Headers {
		h[k] = []string{fmt.Sprint(v)}
	}

	return h
}

func (q *request) Respond(data []byte) error {
	return q.reply(data, nil)
}

func (q *request) Error(code, description string, data []byte) error {
	return q.reply(data, amqp.Table{ErrorCodeHeader: code, ErrorHeader: description})
}

func (q *request) reply(data []byte, headers amqp.Table) error {
	if q.d.ReplyTo == "" {
		return fmt.Errorf("rabbitmq reply %s: no reply-to: %w", q.d.RoutingKey, berr.ErrRespondFailed)
	}

	err := q.t.publish(q.ctx, q.d.ReplyTo, amqp.Publishing{
		CorrelationId: q.d.CorrelationId,
		Headers:       headers,
		Body:          data,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq reply %s: %w", q.d.RoutingKey, fmt.Errorf("%w: %w", berr.ErrRespondFailed, err))
	}

	return nil
}
