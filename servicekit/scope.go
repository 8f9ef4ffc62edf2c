package servicekit

// Scope declares endpoints directly on one service, independent of the registry's current service.
type Scope struct {
	registry *Registry
	def      *ServiceDefinition
}

// Definition returns the service definition behind the scope.
func (s *Scope) Definition() *ServiceDefinition { return s.def }

// Endpoint declares an endpoint on the scope's service.
// An empty name defaults to the handler's function name.
func (s *Scope) Endpoint(name string, handler any, opts ...EndpointOption) (*EndpointDefinition, error) {
	return declareEndpoint(s.def, name, handler, opts...)
}

// Err reports a declaration error attached to the service itself, such as rebinding it to
// another implementing type.
func (s *Scope) Err() error { return s.def.bindErr }
