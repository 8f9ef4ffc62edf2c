package transport

import "context"

// Context is re-exported for convenience in handler signatures.
type Context = context.Context

// HeaderCarrier adapts request headers to a text-map carrier (Get/Set/Keys) so that
// propagation libraries can read trace context from inbound messages.
type HeaderCarrier map[string][]string

func (c HeaderCarrier) Get(key string) string {
	if v := c[key]; len(v) > 0 {
		return v[0]
	}

	return ""
}

func (c HeaderCarrier) Set(key, value string) { c[key] = []string{value} }

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}

	return keys
}
