package memory

import (
	"context"

	"github.com/next-trace/scg-micro/adapters/inmemory"
	"github.com/next-trace/scg-micro/servicekit"
)

// New builds every service of r onto a fresh in-memory transport and returns the transport
// along with a cleanup function that stops the services and closes the transport.
func New(ctx context.Context, r *servicekit.Registry) (*inmemory.Transport, func(), error) {
	tr := inmemory.New()

	dep, err := servicekit.NewBuilder(r).Build(ctx, tr)
	if err != nil {
		_ = tr.Close()

		return nil, nil, err
	}

	cleanup := func() {
		_ = dep.Stop()
		_ = tr.Close()
	}

	return tr, cleanup, nil
}
