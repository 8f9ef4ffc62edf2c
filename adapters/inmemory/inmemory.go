package inmemory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	berr "github.com/next-trace/scg-micro/contract/errors"
	"github.com/next-trace/scg-micro/contract/transport"
)

// RequestIDHeader carries the id assigned to every in-memory request.
const RequestIDHeader = "Micro-Request-Id"

// Transport is a thread-safe in-process implementation of transport.Transport.
// Requests are delivered synchronously on the caller's goroutine; it records lifecycle
// events for tests and examples.
type Transport struct {
	mu       sync.Mutex
	services map[string]*Service
	handlers map[string]transport.Handler
	configs  []transport.ServiceConfig
	events   []string
	closed   bool
	ctx      context.Context
}

// Ensure Transport implements the contract.
var _ transport.Transport = (*Transport)(nil)

// New creates a new in-memory transport.
func New() *Transport {
	return &Transport{
		services: make(map[string]*Service),
		handlers: make(map[string]transport.Handler),
		ctx:      context.Background(),
	}
}

// Dialer returns a transport.Dialer that always hands out t.
func Dialer(t *Transport) transport.Dialer {
	return func(_ context.Context, addresses []string) (transport.Transport, error) {
		t.record(fmt.Sprintf("dial:%d", len(addresses)))

		return t, nil
	}
}

func (t *Transport) AddService(ctx context.Context, cfg transport.ServiceConfig) (transport.Service, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("inmemory add service %s: transport closed: %w", cfg.Name, berr.ErrRegisterFailed)
	}

	if _, exists := t.services[cfg.Name]; exists {
		return nil, fmt.Errorf("inmemory add service %s: already registered: %w", cfg.Name, berr.ErrRegisterFailed)
	}

	svc := &Service{t: t, name: cfg.Name}
	t.services[cfg.Name] = svc
	t.configs = append(t.configs, cfg)
	t.ctx = context.WithoutCancel(ctx)
	t.events = append(t.events, "add:"+cfg.Name)

	return svc, nil
}

// Close closes the transport. Further requests and registrations fail.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.events = append(t.events, "close")

	return nil
}

// Events returns the lifecycle journal: "dial:N", "add:<service>", "stop:<service>" and "close".
func (t *Transport) Events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.events...)
}

// Services returns the configurations of every service added so far.
func (t *Transport) Services() []transport.ServiceConfig {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]transport.ServiceConfig(nil), t.configs...)
}

// Subjects returns the subjects that currently have a handler.
func (t *Transport) Subjects() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.handlers))
	for s := range t.handlers {
		out = append(out, s)
	}

	return out
}

func (t *Transport) record(ev string) {
	t.mu.Lock()
	t.events = append(t.events, ev)
	t.mu.Unlock()
}

// Reply is everything a handler sent back for one request.
type Reply struct {
	ID        string
	Responses [][]byte
	ErrCode   string
	ErrDesc   string
}

// Sent reports whether any response or error reply was sent.
func (r *Reply) Sent() bool { return len(r.Responses) > 0 || r.ErrCode != "" }

// Request delivers data to the handler registered for subject and returns what it sent back.
// Handler errors are turned into error replies, as a network adapter would do.
func (t *Transport) Request(ctx context.Context, subject string, data []byte, headers map[string][]string) (*Reply, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()

		return nil, fmt.Errorf("inmemory request %s: transport closed: %w", subject, berr.ErrCallFailed)
	}

	h, ok := t.handlers[subject]
	base := t.ctx
	t.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("inmemory request %s: no responders: %w", subject, berr.ErrCallFailed)
	}

	if ctx == nil {
		ctx = base
	}

	msg := &Message{
		id:      uuid.NewString(),
		subject: subject,
		data:    data,
		headers: maps.Clone(headers),
	}
	if msg.headers == nil {
		msg.headers = map[string][]string{}
	}

	msg.headers[RequestIDHeader] = []string{msg.id}

	if err := h.Handle(ctx, msg); err != nil {
		code, desc := berr.Status(err)
		_ = msg.Error(code, desc, nil)
	}

	return msg.reply(), nil
}

// Service is a service registered on the in-memory transport.
type Service struct {
	t       *Transport
	name    string
	mu      sync.Mutex
	subs    []string
	stopped bool
	wg      sync.WaitGroup
}

func (s *Service) AddGroup(name string) transport.Group { return &Group{svc: s, prefix: name} }

// Stop unregisters the service's endpoints and waits for in-flight requests.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()

		return nil
	}

	s.stopped = true
	subs := s.subs
	s.mu.Unlock()

	s.t.mu.Lock()
	for _, subj := range subs {
		delete(s.t.handlers, subj)
	}

	delete(s.t.services, s.name)
	s.t.mu.Unlock()

	s.wg.Wait()
	s.t.record("stop:" + s.name)

	return nil
}

// Group is an endpoint prefix of an in-memory service.
type Group struct {
	svc    *Service
	prefix string
}

func (g *Group) AddEndpoint(name string, h transport.Handler) error {
	subject := name
	if g.prefix != "" {
		subject = g.prefix + "." + name
	}

	g.svc.mu.Lock()
	defer g.svc.mu.Unlock()

	if g.svc.stopped {
		return fmt.Errorf("inmemory add endpoint %s: service stopped: %w", subject, berr.ErrRegisterFailed)
	}

	g.svc.t.mu.Lock()
	defer g.svc.t.mu.Unlock()

	if _, exists := g.svc.t.handlers[subject]; exists {
		return fmt.Errorf("inmemory add endpoint %s: subject taken: %w", subject, berr.ErrRegisterFailed)
	}

	svc := g.svc
	g.svc.t.handlers[subject] = transport.HandlerFunc(func(ctx context.Context, req transport.Request) error {
		svc.wg.Add(1)
		defer svc.wg.Done()

		return h.Handle(ctx, req)
	})
	g.svc.subs = append(g.svc.subs, subject)

	return nil
}

// Message is an in-memory request.
type Message struct {
	id      string
	subject string
	data    []byte
	headers map[string][]string

	mu        sync.Mutex
	responses [][]byte
	errCode   string
	errDesc   string
}

var _ transport.Request = (*Message)(nil)

func (m *Message) ID() string                   { return m.id }
func (m *Message) Data() []byte                 { return m.data }
func (m *Message) Headers() map[string][]string { return m.headers }
func (m *Message) Subject() string              { return m.subject }

func (m *Message) Respond(data []byte) error {
	m.mu.Lock()
	m.responses = append(m.responses, append([]byte(nil), data...))
	m.mu.Unlock()

	return nil
}

func (m *Message) Error(code, description string, _ []byte) error {
	m.mu.Lock()
	m.errCode, m.errDesc = code, description
	m.mu.Unlock()

	return nil
}

func (m *Message) reply() *Reply {
	m.mu.Lock()
	defer m.mu.Unlock()

	return &Reply{ID: m.id, Responses: m.responses, ErrCode: m.errCode, ErrDesc: m.errDesc}
}
