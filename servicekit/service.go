package servicekit

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"sync"

	berr "github.com/next-trace/scg-micro/contract/errors"
)

// DefaultVersion is the version of services declared without one.
const DefaultVersion = "1.0.0"

// Initializer is implemented by service types that need set-up after construction.
// Init is called once, when the singleton is resolved.
type Initializer interface {
	Init() error
}

// ServiceDefinition is one declared service: its metadata, endpoints and singleton.
type ServiceDefinition struct {
	name        string
	version     string
	description string
	metadata    map[string]string
	serialized  bool

	endpoints map[string]*EndpointDefinition
	order     []*EndpointDefinition

	implType reflect.Type

	// bindErr is the first failed attempt to rebind implType; it blocks further declarations.
	bindErr error

	mu       sync.RWMutex
	instance reflect.Value

	// held around invocations when serialized
	invokeMu sync.Mutex

	logger *slog.Logger
}

// ServiceOption configures a ServiceDefinition when it is first declared.
type ServiceOption func(*ServiceDefinition)

// Version sets the service version. Defaults to DefaultVersion.
func Version(v string) ServiceOption {
	return func(d *ServiceDefinition) {
		if v != "" {
			d.version = v
		}
	}
}

// Description sets the service description.
func Description(s string) ServiceOption {
	return func(d *ServiceDefinition) { d.description = s }
}

// Metadata attaches advertisement metadata to the service.
func Metadata(md map[string]string) ServiceOption {
	return func(d *ServiceDefinition) { d.metadata = maps.Clone(md) }
}

// Serialized makes invocations of the service's endpoints run one at a time,
// so handlers may mutate the singleton without their own locking.
func Serialized() ServiceOption {
	return func(d *ServiceDefinition) { d.serialized = true }
}

func newServiceDefinition(name string, logger *slog.Logger, opts ...ServiceOption) *ServiceDefinition {
	d := &ServiceDefinition{
		name:      name,
		version:   DefaultVersion,
		endpoints: make(map[string]*EndpointDefinition),
		logger:    logger,
	}

	for _, o := range opts {
		o(d)
	}

	return d
}

func (d *ServiceDefinition) Name() string                { return d.name }
func (d *ServiceDefinition) Version() string             { return d.version }
func (d *ServiceDefinition) Description() string         { return d.description }
func (d *ServiceDefinition) Metadata() map[string]string { return maps.Clone(d.metadata) }

// ImplType returns the implementing type, or nil for services of standalone functions.
func (d *ServiceDefinition) ImplType() reflect.Type { return d.implType }

func (d *ServiceDefinition) bind(t reflect.Type) error {
	if d.implType == nil {
		d.implType = t

		return nil
	}

	if d.implType != t {
		err := fmt.Errorf("declare service %s as %s: already implemented by %s: %w",
			d.name, t, d.implType, berr.ErrInvalidHandler)
		if d.bindErr == nil {
			d.bindErr = err
		}

		return err
	}

	return nil
}

// AddEndpoint inspects handler and stores it under name, replacing any previous endpoint of that name.
// Uniqueness is enforced by the declaration calls on Registry and Scope, not here.
func (d *ServiceDefinition) AddEndpoint(name string, handler any, opts ...EndpointOption) (*EndpointDefinition, error) {
	ep, err := newEndpointDefinition(d, name, handler, opts...)
	if err != nil {
		return nil, err
	}

	if old, exists := d.endpoints[name]; exists {
		for i, e := range d.order {
			if e == old {
				d.order[i] = ep
			}
		}
	} else {
		d.order = append(d.order, ep)
	}

	d.endpoints[name] = ep
	d.logger.Debug("endpoint declared", "service", d.name, "endpoint", name, "strategy", ep.shape.strategy.String())

	return ep, nil
}

// Endpoint returns the endpoint declared under name.
func (d *ServiceDefinition) Endpoint(name string) (*EndpointDefinition, bool) {
	ep, ok := d.endpoints[name]

	return ep, ok
}

// Endpoints returns all endpoints in declaration order.
func (d *ServiceDefinition) Endpoints() []*EndpointDefinition {
	return append([]*EndpointDefinition(nil), d.order...)
}

// Resolve constructs the singleton if it does not exist yet. It is idempotent.
// Services without an implementing type have no singleton.
func (d *ServiceDefinition) Resolve() error {
	if d.bindErr != nil {
		return fmt.Errorf("resolve service %s: %w", d.name, d.bindErr)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.instance.IsValid() || d.implType == nil {
		return nil
	}

	inst := reflect.New(d.implType)
	if in, ok := inst.Interface().(Initializer); ok {
		if err := in.Init(); err != nil {
			return fmt.Errorf("resolve service %s: %w", d.name, errors.Join(berr.ErrResolveFailed, err))
		}
	}

	d.instance = inst
	d.logger.Debug("service resolved", "service", d.name, "type", d.implType.String())

	return nil
}

// Instance returns the resolved singleton (a pointer to the implementing type), or nil.
func (d *ServiceDefinition) Instance() any {
	inst := d.singleton()
	if !inst.IsValid() {
		return nil
	}

	return inst.Interface()
}

func (d *ServiceDefinition) singleton() reflect.Value {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.instance
}
