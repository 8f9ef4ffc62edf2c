package servicekit

import (
	"fmt"
	"io"
	"log/slog"
	"reflect"

	berr "github.com/next-trace/scg-micro/contract/errors"
)

// Registry is the catalog of declared services.
//
// It is mutated only during the declaration phase, before a transport is opened,
// and is read-only afterwards. Declaration is not safe for concurrent use.
type Registry struct {
	services map[string]*ServiceDefinition
	order    []*ServiceDefinition

	// current is the service targeted by Registry.Endpoint.
	current *ServiceDefinition

	// middleware wraps every endpoint invocation, in registration order
	mw []Middleware

	logger *slog.Logger
}

// RegistryOption configures a Registry instance.
type RegistryOption func(*Registry)

// WithLogger sets the logger used by the registry and everything built from it.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMiddleware registers invocation middleware. Middlewares are executed in registration order.
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(r *Registry) { r.mw = append(r.mw, mw...) }
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		services: make(map[string]*ServiceDefinition),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, o := range opts {
		o(r)
	}

	return r
}

// Use appends invocation middleware after construction.
func (r *Registry) Use(mw ...Middleware) { r.mw = append(r.mw, mw...) }

// Logger returns the registry logger.
func (r *Registry) Logger() *slog.Logger { return r.logger }

// DeclareService returns a scope for the named service, creating the definition on first use.
// Options are only applied when the definition is created; the first declaration wins.
// The service becomes the current service for Registry.Endpoint.
func (r *Registry) DeclareService(name string, opts ...ServiceOption) *Scope {
	def, ok := r.services[name]
	if !ok {
		def = newServiceDefinition(name, r.logger, opts...)
		r.services[name] = def
		r.order = append(r.order, def)
		r.logger.Debug("service declared", "service", name, "version", def.version)
	}

	r.SetCurrent(def)

	return &Scope{registry: r, def: def}
}

// Declare is DeclareService for a service implemented by T. The singleton is a *T built
// with reflect.New when the service is first built; handlers whose first parameter is *T
// (or T) receive it.
func Declare[T any](r *Registry, name string, opts ...ServiceOption) *Scope {
	s := r.DeclareService(name, opts...)

	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	_ = s.def.bind(t)

	return s
}

// Service returns the definition registered under name.
func (r *Registry) Service(name string) (*ServiceDefinition, bool) {
	def, ok := r.services[name]

	return def, ok
}

// Services returns all definitions in declaration order.
func (r *Registry) Services() []*ServiceDefinition {
	return append([]*ServiceDefinition(nil), r.order...)
}

// SetCurrent sets the service targeted by Registry.Endpoint. A nil def clears it.
func (r *Registry) SetCurrent(def *ServiceDefinition) { r.current = def }

// Current returns the service targeted by Registry.Endpoint, or nil.
func (r *Registry) Current() *ServiceDefinition { return r.current }

// Endpoint declares an endpoint on the current service.
// An empty name defaults to the handler's function name.
func (r *Registry) Endpoint(name string, handler any, opts ...EndpointOption) (*EndpointDefinition, error) {
	if r.current == nil {
		return nil, fmt.Errorf("declare endpoint %s: %w", endpointName(name, handler), berr.ErrMissingServiceContext)
	}

	return declareEndpoint(r.current, name, handler, opts...)
}

func declareEndpoint(def *ServiceDefinition, name string, handler any, opts ...EndpointOption) (*EndpointDefinition, error) {
	if def.bindErr != nil {
		return nil, def.bindErr
	}

	name = endpointName(name, handler)

	if _, exists := def.Endpoint(name); exists {
		return nil, fmt.Errorf("declare endpoint %s.%s: %w", def.name, name, berr.ErrDuplicateEndpoint)
	}

	return def.AddEndpoint(name, handler, opts...)
}
