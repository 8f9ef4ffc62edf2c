package servicekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	berr "github.com/next-trace/scg-micro/contract/errors"
	"github.com/next-trace/scg-micro/contract/transport"
)

// Builder wires the services of a Registry into a live transport.
type Builder struct {
	registry *Registry
	logger   *slog.Logger
}

// NewBuilder constructs a Builder over a Registry.
func NewBuilder(r *Registry) *Builder { return &Builder{registry: r, logger: r.logger} }

// Deployment is the set of services started by one Build.
type Deployment struct {
	mu       sync.Mutex
	services []transport.Service
	names    []string
	logger   *slog.Logger
}

// Build resolves every service singleton and registers each service, its group and endpoints,
// in declaration order. If any step fails the services already added are stopped.
func (b *Builder) Build(ctx context.Context, t transport.Transport) (*Deployment, error) {
	dep := &Deployment{logger: b.logger}

	for _, def := range b.registry.order {
		svc, err := b.addService(ctx, t, def)
		if err != nil {
			return nil, errors.Join(err, dep.Stop())
		}

		dep.services = append(dep.services, svc)
		dep.names = append(dep.names, def.name)
	}

	return dep, nil
}

func (b *Builder) addService(ctx context.Context, t transport.Transport, def *ServiceDefinition) (transport.Service, error) {
	if err := def.Resolve(); err != nil {
		return nil, err
	}

	svc, err := t.AddService(ctx, transport.ServiceConfig{
		Name:        def.name,
		Version:     def.version,
		Description: def.description,
		Metadata:    def.Metadata(),
	})
	if err != nil {
		return nil, fmt.Errorf("add service %s: %w", def.name, wrapRegister(err))
	}

	grp := svc.AddGroup(def.name)
	if err := b.addEndpoints(grp, def); err != nil {
		return nil, errors.Join(err, svc.Stop())
	}

	b.logger.InfoContext(ctx, "service started",
		"service", def.name, "version", def.version, "endpoints", len(def.order))

	return svc, nil
}

func (b *Builder) addEndpoints(grp transport.Group, def *ServiceDefinition) error {
	for _, ep := range def.order {
		if err := grp.AddEndpoint(ep.name, ep.Dispatcher(b.registry.mw...)); err != nil {
			return fmt.Errorf("add endpoint %s: %w", ep.label(), wrapRegister(err))
		}
	}

	return nil
}

func wrapRegister(err error) error {
	if errors.Is(err, berr.ErrRegisterFailed) {
		return err
	}

	return errors.Join(berr.ErrRegisterFailed, err)
}

// Services returns the names of the started services in start order.
func (d *Deployment) Services() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.names...)
}

// Stop stops the services in reverse start order and joins their errors.
// Calling Stop again is a no-op.
func (d *Deployment) Stop() error {
	d.mu.Lock()
	services, names := d.services, d.names
	d.services, d.names = nil, nil
	d.mu.Unlock()

	var errs []error

	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop service %s: %w", names[i], err))

			continue
		}

		d.logger.Info("service stopped", "service", names[i])
	}

	return errors.Join(errs...)
}
