package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	berr "github.com/next-trace/scg-micro/contract/errors"
	"github.com/next-trace/scg-micro/contract/transport"
)

// Header names of the request/reply convention.
const (
	ReplyToHeader       = "reply-to"
	CorrelationIDHeader = "correlation-id"
	ErrorHeader         = "micro-error"
	ErrorCodeHeader     = "micro-error-code"
)

// ErrClientClosed is returned by Consumer.Poll once the client is closed.
var ErrClientClosed = errors.New("kafka client closed")

// Record is one consumed Kafka record.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Consumer is a minimal Kafka-like group consumer.
type Consumer interface {
	AddTopics(topics ...string)
	RemoveTopics(topics ...string)
	Poll(ctx context.Context) ([]Record, error)
	Close()
}

// Writer is a minimal Kafka-like writer interface.
type Writer interface {
	Write(topic string, key, value []byte, headers map[string]string) error
}

// Transport implements transport.Transport using an injected Consumer and Writer.
// A single poll loop, started with the first endpoint, fans records out to handler goroutines.
type Transport struct {
	consumer Consumer
	writer   Writer
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[string]*route

	loopOnce sync.Once
	cancel   context.CancelFunc
	loopDone chan struct{}
}

type route struct {
	svc *service
	h   transport.Handler
}

// Ensure Transport implements the contract.
var _ transport.Transport = (*Transport)(nil)

// New creates a Kafka transport over the provided consumer and writer.
func New(c Consumer, w Writer, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Transport{
		consumer: c,
		writer:   w,
		logger:   logger,
		handlers: make(map[string]*route),
		loopDone: make(chan struct{}),
	}
}

func (t *Transport) AddService(ctx context.Context, cfg transport.ServiceConfig) (transport.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if t.consumer == nil || t.writer == nil {
		return nil, fmt.Errorf("kafka add service %s: %w", cfg.Name, berr.ErrRegisterFailed)
	}

	return &service{t: t, name: cfg.Name, ctx: context.WithoutCancel(ctx)}, nil
}

// Close stops the poll loop and closes the consumer.
func (t *Transport) Close() error {
	started := false

	t.loopOnce.Do(func() { close(t.loopDone) })

	t.mu.Lock()
	if t.cancel != nil {
		started = true
		t.cancel()
	}
	t.mu.Unlock()

	if started {
		<-t.loopDone
	}

	if t.consumer != nil {
		t.consumer.Close()
	}

	return nil
}

func (t *Transport) startLoop(ctx context.Context) {
	t.loopOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)

		t.mu.Lock()
		t.cancel = cancel
		t.mu.Unlock()

		go t.poll(loopCtx)
	})
}

func (t *Transport) poll(ctx context.Context) {
	defer close(t.loopDone)

	for {
		records, err := t.consumer.Poll(ctx)
		if ctx.Err() != nil || errors.Is(err, ErrClientClosed) {
			return
		}

		if err != nil {
			t.logger.Warn("kafka poll failed", "err", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}

			continue
		}

		for _, rec := range records {
			t.dispatch(rec)
		}
	}
}

func (t *Transport) dispatch(rec Record) {
	t.mu.RLock()
	r, ok := t.handlers[rec.Topic]
	t.mu.RUnlock()

	if !ok {
		return
	}

	s := r.svc
	if !s.begin() {
		return
	}

	go func() {
		defer s.inflight.Done()
		s.serve(r.h, rec)
	}()
}

type service struct {
	t    *Transport
	name string
	ctx  context.Context

	mu       sync.Mutex
	topics   []string
	stopped  bool
	inflight sync.WaitGroup
}

func (s *service) AddGroup(name string) transport.Group { return &group{svc: s, prefix: name} }

// begin registers one in-flight handler unless the service is stopped.
func (s *service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}

	s.inflight.Add(1)

	return true
}

// Stop stops consuming the service's topics and waits for in-flight handlers.
func (s *service) Stop() error {
	s.mu.Lock()
	s.stopped = true
	topics := s.topics
	s.topics = nil
	s.mu.Unlock()

	s.t.mu.Lock()
	for _, topic := range topics {
		delete(s.t.handlers, topic)
	}
	s.t.mu.Unlock()

	if len(topics) > 0 {
		s.t.consumer.RemoveTopics(topics...)
	}

	s.inflight.Wait()

	return nil
}

func (s *service) serve(h transport.Handler, rec Record) {
	req := &request{t: s.t, rec: rec}

	if err := h.Handle(s.ctx, req); err != nil {
		code, desc := berr.Status(err)
		s.t.logger.Error("kafka handler failed", "service", s.name, "topic", rec.Topic, "code", code, "err", err)

		if rerr := req.Error(code, desc, nil); rerr != nil {
			s.t.logger.Error("kafka error reply failed", "service", s.name, "err", rerr)
		}
	}
}

type group struct {
	svc    *service
	prefix string
}

func (g *group) AddEndpoint(name string, h transport.Handler) error {
	s := g.svc
	topic := name
	if g.prefix != "" {
		topic = g.prefix + "." + name
	}

	s.t.mu.Lock()
	if _, exists := s.t.handlers[topic]; exists {
		s.t.mu.Unlock()

		return fmt.Errorf("kafka add endpoint %s: topic taken: %w", topic, berr.ErrRegisterFailed)
	}

	s.t.handlers[topic] = &route{svc: s, h: h}
	s.t.mu.Unlock()

	s.mu.Lock()
	s.topics = append(s.topics, topic)
	s.mu.Unlock()

	s.t.consumer.AddTopics(topic)
	s.t.startLoop(context.WithoutCancel(s.ctx))

	return nil
}

// request adapts a Record to transport.Request.
type request struct {
	t   *Transport
	rec Record
}

var _ transport.Request = (*request)(nil)

func (q *request) Data() []byte    { return q.rec.Value }
func (q *request) Subject() string { return q.rec.Topic }

func (q *request) Headers() map[string][]string {
	h := make(map[string][]string, len(q.rec.Headers))
	for k, v := range q.rec.Headers {
		h[k] = []string{v}
	}

	return h
}

func (q *request) Respond(data []byte) error { return q.reply(data, nil) }

func (q *request) Error(code, description string, data []byte) error {
	return q.reply(data, map[string]string{ErrorCodeHeader: code, ErrorHeader: description})
}

func (q *request) reply(data []byte, extra map[string]string) error {
	replyTo := q.rec.Headers[ReplyToHeader]
	if replyTo == "" {
		return fmt.Errorf("kafka reply %s: no %s header: %w", q.rec.Topic, ReplyToHeader, berr.ErrRespondFailed)
	}

	headers := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		headers[k] = v
	}

	if id := q.rec.Headers[CorrelationIDHeader]; id != "" {
		headers[CorrelationIDHeader] = id
	}

	if err := q.t.writer.Write(replyTo, q.rec.Key, data, headers); err != nil {
		return fmt.Errorf("kafka reply %s: %w", q.rec.Topic, errors.Join(berr.ErrRespondFailed, err))
	}

	return nil
}
