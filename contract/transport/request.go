package transport

// Request is a single inbound message delivered to an endpoint.
// Implementations are provided by transport adapters and are used by exactly one handler invocation.
type Request interface {
	// Data returns the raw payload bytes.
	Data() []byte
	// Headers returns the message headers, if the transport carries any.
	Headers() map[string][]string
	// Subject returns the address the message was delivered on.
	Subject() string
	// Respond sends response bytes back to the caller.
	Respond(data []byte) error
	// Error sends an error reply with a status code and description.
	Error(code, description string, data []byte) error
}
