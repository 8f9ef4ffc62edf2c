package rabbitmq_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/next-trace/scg-micro/adapters/rabbitmq"
	berr "github.com/next-trace/scg-micro/contract/errors"
	"github.com/next-trace/scg-micro/contract/transport"
)

type published struct {
	key string
	msg amqp.Publishing
}

type fakeChannel struct {
	mu        sync.Mutex
	exchanges []string
	queues    []string
	binds     []string
	consumers map[string]chan amqp.Delivery
	byQueue   map[string]chan amqp.Delivery
	published []published
	closed    bool
	declErr   error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{consumers: map[string]chan amqp.Delivery{}, byQueue: map[string]chan amqp.Delivery{}}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.exchanges = append(f.exchanges, name+":"+kind)

	return f.declErr
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.queues = append(f.queues, name)

	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.binds = append(f.binds, exchange+"/"+key+"->"+name)

	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan amqp.Delivery, 4)
	f.consumers[consumer] = ch
	f.byQueue[queue] = ch

	return ch, nil
}

func (f *fakeChannel) Cancel(consumer string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	close(f.consumers[consumer])

	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	f.published = append(f.published, published{key: key, msg: msg})
	f.mu.Unlock()

	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true

	return nil
}

func (f *fakeChannel) deliver(queue string, d amqp.Delivery) {
	f.mu.Lock()
	ch := f.byQueue[queue]
	f.mu.Unlock()

	ch <- d
}

func (f *fakeChannel) replies() []published {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]published(nil), f.published...)
}

type fakeAck struct {
	mu   sync.Mutex
	acks int
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	a.acks++
	a.mu.Unlock()

	return nil
}

func (a *fakeAck) Nack(uint64, bool, bool) error { return nil }
func (a *fakeAck) Reject(uint64, bool) error     { return nil }

func TestRabbitMQ_EndpointRequestReply(t *testing.T) {
	fc := newFakeChannel()

	tr, err := rabbitmq.New(fc, "", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if len(fc.exchanges) != 1 || fc.exchanges[0] != "micro:topic" {
		t.Fatalf("exchanges=%v", fc.exchanges)
	}

	svc, err := tr.AddService(t.Context(), transport.ServiceConfig{Name: "sample"})
	if err != nil {
		t.Fatalf("add service: %v", err)
	}

	grp := svc.AddGroup("sample")

	echo := transport.HandlerFunc(func(ctx context.Context, req transport.Request) error {
		if req.Subject() != "sample.echo" || req.Headers()["x"][0] != "1" {
			t.Errorf("request mismatch: %s %v", req.Subject(), req.Headers())
		}

		return req.Respond(req.Data())
	})
	fail := transport.HandlerFunc(func(context.Context, transport.Request) error {
		return errors.New("boom")
	})

	if err := grp.AddEndpoint("echo", echo); err != nil {
		t.Fatalf("add endpoint: %v", err)
	}

	if err := grp.AddEndpoint("fail", fail); err != nil {
		t.Fatalf("add endpoint: %v", err)
	}

	if len(fc.binds) != 2 || fc.binds[0] != "micro/sample.echo->sample.echo" {
		t.Fatalf("binds=%v", fc.binds)
	}

	ack := &fakeAck{}
	fc.deliver("sample.echo", amqp.Delivery{
		Acknowledger:  ack,
		RoutingKey:    "sample.echo",
		ReplyTo:       "amq.rabbitmq.reply-to",
		CorrelationId: "c-1",
		Headers:       amqp.Table{"x": 1},
		Body:          []byte("ping"),
	})
	fc.deliver("sample.fail", amqp.Delivery{
		Acknowledger:  ack,
		RoutingKey:    "sample.fail",
		ReplyTo:       "reply-q",
		CorrelationId: "c-2",
	})

	// Stop waits for the delivery loops and in-flight handlers.
	if err := svc.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	replies := fc.replies()
	if len(replies) != 2 {
		t.Fatalf("replies=%d", len(replies))
	}

	byCorr := map[string]published{}
	for _, r := range replies {
		byCorr[r.msg.CorrelationId] = r
	}

	if r := byCorr["c-1"]; r.key != "amq.rabbitmq.reply-to" || string(r.msg.Body) != "ping" {
		t.Fatalf("echo reply=%+v", r)
	}

	if r := byCorr["c-2"]; r.key != "reply-q" || r.msg.Headers[rabbitmq.ErrorCodeHeader] != berr.StatusInternalError {
		t.Fatalf("error reply=%+v", r)
	}

	if ack.acks != 2 {
		t.Fatalf("acks=%d", ack.acks)
	}

	if err := tr.Close(); err != nil || !fc.closed {
		t.Fatalf("close: %v closed=%v", err, fc.closed)
	}
}

func TestRabbitMQ_RespondWithoutReplyTo(t *testing.T) {
	fc := newFakeChannel()
	tr, _ := rabbitmq.New(fc, "svc", nil)
	svc, _ := tr.AddService(t.Context(), transport.ServiceConfig{Name: "s"})

	got := make(chan error, 1)
	h := transport.HandlerFunc(func(_ context.Context, req transport.Request) error {
		got <- req.Respond([]byte("x"))

		return nil
	})

	if err := svc.AddGroup("s").AddEndpoint("e", h); err != nil {
		t.Fatalf("add endpoint: %v", err)
	}

	fc.deliver("s.e", amqp.Delivery{Acknowledger: &fakeAck{}, RoutingKey: "s.e"})

	if err := <-got; !errors.Is(err, berr.ErrRespondFailed) {
		t.Fatalf("want ErrRespondFailed, got %v", err)
	}

	_ = svc.Stop()
}

func TestRabbitMQ_ConstructorErrors(t *testing.T) {
	if _, err := rabbitmq.New(nil, "", nil); !errors.Is(err, berr.ErrConnectFailed) {
		t.Fatalf("want ErrConnectFailed, got %v", err)
	}

	fc := newFakeChannel()
	fc.declErr = errors.New("denied")

	if _, err := rabbitmq.New(fc, "", nil); !errors.Is(err, berr.ErrConnectFailed) {
		t.Fatalf("want ErrConnectFailed, got %v", err)
	}

	if _, err := rabbitmq.Dial(t.Context(), rabbitmq.Config{}, nil); !errors.Is(err, berr.ErrConnectFailed) {
		t.Fatalf("want ErrConnectFailed for empty URL, got %v", err)
	}
}
