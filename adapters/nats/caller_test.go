package nats_test

import (
	"context"
	"errors"
	"testing"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"github.com/next-trace/scg-micro/adapters/nats"
	berr "github.com/next-trace/scg-micro/contract/errors"
)

type fakeRequester struct {
	calls []*natsgo.Msg
	resp  *natsgo.Msg
	err   error
}

func (f *fakeRequester) RequestMsgWithContext(_ context.Context, msg *natsgo.Msg) (*natsgo.Msg, error) {
	f.calls = append(f.calls, msg)
	if f.err != nil {
		return nil, f.err
	}

	return f.resp, nil
}

func TestCaller_CallAndCallJSON(t *testing.T) {
	fr := &fakeRequester{resp: &natsgo.Msg{Data: []byte(`{"result":3}`)}}
	c := nats.NewCaller(fr)

	out, err := c.CallJSON(t.Context(), "calc", "add", map[string]int{"a": 1, "b": 2}, map[string]string{"h": "v"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}

	if string(out) != `{"result":3}` {
		t.Fatalf("out=%s", out)
	}

	if len(fr.calls) != 1 {
		t.Fatalf("calls=%d", len(fr.calls))
	}

	m := fr.calls[0]
	if m.Subject != "calc.add" {
		t.Fatalf("subject=%s", m.Subject)
	}

	if string(m.Data) != `{"a":1,"b":2}` {
		t.Fatalf("data=%s", m.Data)
	}

	if m.Header.Get("h") != "v" {
		t.Fatalf("headers=%v", m.Header)
	}
}

func TestCaller_ErrorReply(t *testing.T) {
	resp := &natsgo.Msg{Header: natsgo.Header{}}
	resp.Header.Set(micro.ErrorCodeHeader, "400")
	resp.Header.Set(micro.ErrorHeader, "bad payload")

	c := nats.NewCaller(&fakeRequester{resp: resp})

	_, err := c.Call(t.Context(), "sample", "say_hello", []byte{0xff}, nil)
	if !errors.Is(err, berr.ErrCallFailed) {
		t.Fatalf("want ErrCallFailed, got %v", err)
	}

	var se *berr.StatusError
	if !errors.As(err, &se) || se.Code != "400" || se.Description != "bad payload" {
		t.Fatalf("status error=%+v", se)
	}
}

func TestCaller_TransportErrors(t *testing.T) {
	if _, err := nats.NewCaller(nil).Call(t.Context(), "s", "e", nil, nil); !errors.Is(err, berr.ErrCallFailed) {
		t.Fatalf("expected error for nil client, got %v", err)
	}

	c := nats.NewCaller(&fakeRequester{err: natsgo.ErrNoResponders})
	if _, err := c.Call(t.Context(), "s", "e", nil, nil); !errors.Is(err, natsgo.ErrNoResponders) || !errors.Is(err, berr.ErrCallFailed) {
		t.Fatalf("want wrapped ErrNoResponders, got %v", err)
	}

	// context errors propagate as-is
	c2 := nats.NewCaller(&fakeRequester{err: context.DeadlineExceeded})
	if _, err := c2.Call(t.Context(), "s", "e", nil, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}

	if _, err := c.CallJSON(t.Context(), "s", "e", make(chan int), nil); !errors.Is(err, berr.ErrCallFailed) {
		t.Fatalf("want serialize failure, got %v", err)
	}
}

func TestSubject(t *testing.T) {
	if got := nats.Subject("sample", "counter"); got != "sample.counter" {
		t.Fatalf("subject=%s", got)
	}
}
