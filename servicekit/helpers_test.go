package servicekit_test

import (
	"testing"

	"github.com/next-trace/scg-micro/adapters/inmemory"
	"github.com/next-trace/scg-micro/servicekit"
)

// deploy builds r onto a fresh in-memory transport and tears it down with the test.
func deploy(t *testing.T, r *servicekit.Registry) *inmemory.Transport {
	t.Helper()

	tr := inmemory.New()

	dep, err := servicekit.NewBuilder(r).Build(t.Context(), tr)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	t.Cleanup(func() {
		_ = dep.Stop()
		_ = tr.Close()
	})

	return tr
}

func call(t *testing.T, tr *inmemory.Transport, subject, payload string) *inmemory.Reply {
	t.Helper()

	rep, err := tr.Request(t.Context(), subject, []byte(payload), nil)
	if err != nil {
		t.Fatalf("request %s: %v", subject, err)
	}

	return rep
}

func mustEndpoint(t *testing.T, s *servicekit.Scope, name string, h any, opts ...servicekit.EndpointOption) {
	t.Helper()

	if _, err := s.Endpoint(name, h, opts...); err != nil {
		t.Fatalf("endpoint %s: %v", name, err)
	}
}

// fakeRequest records replies for tests that drive a Dispatcher directly.
type fakeRequest struct {
	data      []byte
	responses [][]byte
	errCode   string
}

func (f *fakeRequest) Data() []byte                 { return f.data }
func (f *fakeRequest) Headers() map[string][]string { return nil }
func (f *fakeRequest) Subject() string              { return "test" }

func (f *fakeRequest) Respond(data []byte) error {
	f.responses = append(f.responses, data)

	return nil
}

func (f *fakeRequest) Error(code, _ string, _ []byte) error {
	f.errCode = code

	return nil
}
