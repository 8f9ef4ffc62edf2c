package transport

import "context"

// ServiceConfig describes a service advertised on a transport.
type ServiceConfig struct {
	Name        string
	Version     string
	Description string
	Metadata    map[string]string
}

// Transport is a live connection able to host services.
// Close releases the connection; services must be stopped before Close is called.
type Transport interface {
	AddService(ctx context.Context, cfg ServiceConfig) (Service, error)
	Close() error
}

// Service is a registered service. Stop unsubscribes every endpoint and waits for
// in-flight handlers to finish.
type Service interface {
	AddGroup(name string) Group
	Stop() error
}

// Group is a named prefix under which endpoints are exposed.
type Group interface {
	AddEndpoint(name string, h Handler) error
}

// Dialer opens a Transport against an ordered list of addresses.
type Dialer func(ctx context.Context, addresses []string) (Transport, error)
