package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	berr "github.com/next-trace/scg-micro/contract/errors"
	"github.com/next-trace/scg-micro/contract/transport"

	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultGroup is the consumer group used when Config.Group is empty.
const DefaultGroup = "scg-micro"

// Config holds the franz-go client settings.
type Config struct {
	Brokers     []string
	Group       string
	ClientID    string
	TLS         *tls.Config
	DialTimeout time.Duration
}

// kgoClient adapts a franz-go client to Consumer and Writer.
type kgoClient struct{ cl *kgo.Client }

func (c kgoClient) AddTopics(topics ...string)    { c.cl.AddConsumeTopics(topics...) }
func (c kgoClient) RemoveTopics(topics ...string) { c.cl.PurgeTopicsFromConsuming(topics...) }
func (c kgoClient) Close()                        { c.cl.Close() }

func (c kgoClient) Poll(ctx context.Context) ([]Record, error) {
	fetches := c.cl.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, ErrClientClosed
	}

	var errs []error
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.Canceled) || errors.Is(fe.Err, context.DeadlineExceeded) {
			continue
		}

		errs = append(errs, fmt.Errorf("fetch %s/%d: %w", fe.Topic, fe.Partition, fe.Err))
	}

	var out []Record
	fetches.EachRecord(func(r *kgo.Record) {
		rec := Record{Topic: r.Topic, Key: r.Key, Value: r.Value}
		if len(r.Headers) > 0 {
			rec.Headers = make(map[string]string, len(r.Headers))
			for _, h := range r.Headers {
				rec.Headers[h.Key] = string(h.Value)
			}
		}

		out = append(out, rec)
	})

	return out, errors.Join(errs...)
}

func (c kgoClient) Write(topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if len(headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(headers))
		for k, v := range headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return c.cl.ProduceSync(context.Background(), rec).FirstErr()
}

// Dial builds a franz-go backed Transport and checks broker reachability.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Transport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka dial: brokers required: %w", berr.ErrConnectFailed)
	}

	group := cfg.Group
	if group == "" {
		group = DefaultGroup
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	if cfg.DialTimeout > 0 {
		opts = append(opts, kgo.DialTimeout(cfg.DialTimeout))
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client init: %w", errors.Join(berr.ErrConnectFailed, err))
	}

	if err := cl.Ping(ctx); err != nil {
		cl.Close()

		return nil, fmt.Errorf("kafka ping: %w", errors.Join(berr.ErrConnectFailed, err))
	}

	c := kgoClient{cl: cl}

	return New(c, c, logger), nil
}

// Dialer adapts Dial to transport.Dialer; runner addresses replace cfg.Brokers when given.
func Dialer(cfg Config, logger *slog.Logger) transport.Dialer {
	return func(ctx context.Context, addresses []string) (transport.Transport, error) {
		c := cfg
		if len(addresses) > 0 {
			c.Brokers = addresses
		}

		t, err := Dial(ctx, c, logger)
		if err != nil {
			return nil, err
		}

		return t, nil
	}
}
