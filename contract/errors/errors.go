package errors

import stderrors "errors"

// Error codes for the service kit contracts. Keep stable; used across adapters and the kit.
const (
	ErrCodeInvalidHandler        = "servicekit.invalid_handler"
	ErrCodeMissingServiceContext = "servicekit.missing_service_context"
	ErrCodeDuplicateEndpoint     = "servicekit.duplicate_endpoint"
	ErrCodePayloadDecoding       = "servicekit.payload_decoding"
	ErrCodeMissingArgument       = "servicekit.missing_argument"
	ErrCodeResultEncoding        = "servicekit.result_encoding"
	ErrCodeHandlerPanic          = "servicekit.handler_panic"
	ErrCodeResolveFailed         = "servicekit.resolve_failed"
	ErrCodeConnectFailed         = "servicekit.connect_failed"
	ErrCodeRegisterFailed        = "servicekit.register_failed"
	ErrCodeRespondFailed         = "servicekit.respond_failed"
	ErrCodeCallFailed            = "servicekit.call_failed"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrInvalidHandler        = Code(ErrCodeInvalidHandler)
	ErrMissingServiceContext = Code(ErrCodeMissingServiceContext)
	ErrDuplicateEndpoint     = Code(ErrCodeDuplicateEndpoint)
	ErrPayloadDecoding       = Code(ErrCodePayloadDecoding)
	ErrMissingArgument       = Code(ErrCodeMissingArgument)
	ErrResultEncoding        = Code(ErrCodeResultEncoding)
	ErrHandlerPanic          = Code(ErrCodeHandlerPanic)
	ErrResolveFailed         = Code(ErrCodeResolveFailed)
	ErrConnectFailed         = Code(ErrCodeConnectFailed)
	ErrRegisterFailed        = Code(ErrCodeRegisterFailed)
	ErrRespondFailed         = Code(ErrCodeRespondFailed)
	ErrCallFailed            = Code(ErrCodeCallFailed)
)

// Status codes used in error replies.
const (
	StatusBadRequest    = "400"
	StatusInternalError = "500"
)

// StatusError lets a handler pick the code of its own error reply.
type StatusError struct {
	Code        string
	Description string
	Err         error
}

func (e *StatusError) Error() string {
	switch {
	case e.Err == nil:
		return e.Description
	case e.Description == "":
		return e.Err.Error()
	default:
		return e.Description + ": " + e.Err.Error()
	}
}

// description is the text sent in the error reply.
func (e *StatusError) description() string {
	if e.Description == "" && e.Err != nil {
		return e.Err.Error()
	}

	return e.Description
}

func (e *StatusError) Unwrap() error { return e.Err }

// WithStatus wraps err so that adapters reply with the given code and err's text.
func WithStatus(code string, err error) error {
	if err == nil {
		return nil
	}

	return &StatusError{Code: code, Err: err}
}

// Status maps an error to the code and description of an error reply.
// Payload decoding failures are the caller's fault; everything else is internal.
func Status(err error) (code, description string) {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se.Code, se.description()
	}

	if stderrors.Is(err, ErrPayloadDecoding) || stderrors.Is(err, ErrMissingArgument) {
		return StatusBadRequest, err.Error()
	}

	return StatusInternalError, err.Error()
}
