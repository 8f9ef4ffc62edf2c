package servicekit

import "fmt"

// ResultKind tags what the dispatcher should do after a handler returns.
type ResultKind uint8

const (
	// ResultNone means nothing is sent back.
	ResultNone ResultKind = iota
	// ResultReplied means the handler already answered through the raw request.
	ResultReplied
	// ResultPayload means the attached bytes are sent as the response.
	ResultPayload
)

func (k ResultKind) String() string {
	switch k {
	case ResultNone:
		return "none"
	case ResultReplied:
		return "replied"
	case ResultPayload:
		return "payload"
	default:
		return fmt.Sprintf("ResultKind(%d)", uint8(k))
	}
}

// Result is the outcome of one endpoint invocation.
// Handlers may also return a Result directly to control the reply explicitly.
type Result struct {
	kind ResultKind
	data []byte
}

// NoResponse reports that no reply must be sent.
func NoResponse() Result { return Result{kind: ResultNone} }

// AlreadyReplied reports that the handler sent its own reply.
func AlreadyReplied() Result { return Result{kind: ResultReplied} }

// Payload wraps the bytes to send. A nil slice is sent as an empty payload.
func Payload(data []byte) Result {
	if data == nil {
		data = []byte{}
	}

	return Result{kind: ResultPayload, data: data}
}

func (r Result) Kind() ResultKind { return r.kind }

// Data returns the payload bytes; it is nil unless Kind is ResultPayload.
func (r Result) Data() []byte { return r.data }
