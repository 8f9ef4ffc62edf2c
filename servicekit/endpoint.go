package servicekit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync/atomic"

	berr "github.com/next-trace/scg-micro/contract/errors"
	"github.com/next-trace/scg-micro/contract/transport"
)

// Strategy is how the payload of a request becomes handler arguments.
type Strategy uint8

const (
	// StrategyNone ignores the payload.
	StrategyNone Strategy = iota
	// StrategyRawBytes passes the payload unchanged ([]byte, json.RawMessage, any).
	StrategyRawBytes
	// StrategyMutableBytes copies the payload into a fresh *bytes.Buffer.
	StrategyMutableBytes
	// StrategyText decodes the payload as UTF-8 text.
	StrategyText
	// StrategyJSON decodes the payload as one JSON document.
	StrategyJSON
	// StrategyNamedFields decodes a JSON object and binds its fields to parameters by name.
	StrategyNamedFields
)

func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategyRawBytes:
		return "raw_bytes"
	case StrategyMutableBytes:
		return "mutable_bytes"
	case StrategyText:
		return "text"
	case StrategyJSON:
		return "json"
	case StrategyNamedFields:
		return "named_fields"
	default:
		return fmt.Sprintf("Strategy(%d)", uint8(s))
	}
}

var (
	contextType = reflect.TypeFor[context.Context]()
	requestType = reflect.TypeFor[transport.Request]()
	errorType   = reflect.TypeFor[error]()
	bufferType  = reflect.TypeFor[*bytes.Buffer]()
	resultType  = reflect.TypeFor[Result]()
)

// shape is the dispatch descriptor computed once per endpoint.
type shape struct {
	receiver        bool
	receiverByValue bool
	context         bool
	request         bool

	strategy Strategy
	params   []reflect.Type
	names    []string

	value    bool // first return is a value
	errOut   bool // last return is an error
	numOut   int
	numInput int
}

// EndpointOption configures an endpoint at declaration.
type EndpointOption func(*endpointConfig)

type endpointConfig struct {
	params []string
}

// Params names the payload parameters of a handler taking two or more of them.
// The payload must then be a JSON object whose fields are bound to parameters by these names.
func Params(names ...string) EndpointOption {
	return func(c *endpointConfig) { c.params = append([]string(nil), names...) }
}

// EndpointDefinition is one handler bound to a service.
type EndpointDefinition struct {
	service *ServiceDefinition
	name    string
	fn      reflect.Value
	shape   shape
}

func newEndpointDefinition(
	svc *ServiceDefinition,
	name string,
	handler any,
	opts ...EndpointOption,
) (*EndpointDefinition, error) {
	if handler == nil {
		return nil, fmt.Errorf("declare endpoint %s.%s: handler is nil: %w", svc.name, name, berr.ErrInvalidHandler)
	}

	var cfg endpointConfig
	for _, o := range opts {
		o(&cfg)
	}

	fn := reflect.ValueOf(handler)

	sh, err := inspect(svc.implType, fn, cfg.params)
	if err != nil {
		return nil, fmt.Errorf("declare endpoint %s.%s: %w", svc.name, name, err)
	}

	return &EndpointDefinition{service: svc, name: name, fn: fn, shape: sh}, nil
}

func (e *EndpointDefinition) Name() string                { return e.name }
func (e *EndpointDefinition) Service() *ServiceDefinition { return e.service }
func (e *EndpointDefinition) Strategy() Strategy          { return e.shape.strategy }
func (e *EndpointDefinition) HasReceiver() bool           { return e.shape.receiver }
func (e *EndpointDefinition) TakesRequest() bool          { return e.shape.request }
func (e *EndpointDefinition) ParamNames() []string        { return append([]string(nil), e.shape.names...) }
func (e *EndpointDefinition) label() string               { return e.service.name + "." + e.name }

func (e *EndpointDefinition) ParamTypes() []reflect.Type {
	return append([]reflect.Type(nil), e.shape.params...)
}

func inspect(impl reflect.Type, fn reflect.Value, names []string) (shape, error) {
	var sh shape

	if fn.Kind() != reflect.Func {
		return sh, fmt.Errorf("handler is %s, not a func: %w", fn.Type(), berr.ErrInvalidHandler)
	}

	if fn.IsNil() {
		return sh, fmt.Errorf("handler is nil: %w", berr.ErrInvalidHandler)
	}

	ft := fn.Type()
	if ft.IsVariadic() {
		return sh, fmt.Errorf("variadic handler %s: %w", ft, berr.ErrInvalidHandler)
	}

	in := make([]reflect.Type, ft.NumIn())
	for i := range in {
		in[i] = ft.In(i)
	}

	sh.numInput = len(in)

	i := 0
	if impl != nil && len(in) > 0 && (in[0] == reflect.PointerTo(impl) || in[0] == impl) {
		sh.receiver = true
		sh.receiverByValue = in[0] == impl
		i++
	}

	if i < len(in) && in[i] == contextType {
		sh.context = true
		i++
	}

	if i < len(in) && in[i] == requestType {
		sh.request = true
		i++
	}

	sh.params = in[i:]

	switch len(sh.params) {
	case 0:
		sh.strategy = StrategyNone
	case 1:
		sh.strategy = strategyFor(sh.params[0])
		if len(names) == 1 {
			sh.names = names
		}
	default:
		if err := checkNames(names, len(sh.params)); err != nil {
			return sh, err
		}

		sh.strategy = StrategyNamedFields
		sh.names = names
	}

	if err := inspectReturns(ft, &sh); err != nil {
		return sh, err
	}

	return sh, nil
}

func strategyFor(t reflect.Type) Strategy {
	switch {
	case t == bufferType:
		return StrategyMutableBytes
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8:
		return StrategyRawBytes
	case t.Kind() == reflect.Interface && t.NumMethod() == 0:
		return StrategyRawBytes
	case t.Kind() == reflect.String:
		return StrategyText
	default:
		return StrategyJSON
	}
}

func checkNames(names []string, want int) error {
	if len(names) != want {
		return fmt.Errorf("handler takes %d payload parameters but %d names were given: %w",
			want, len(names), berr.ErrInvalidHandler)
	}

	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("empty parameter name: %w", berr.ErrInvalidHandler)
		}

		if _, dup := seen[n]; dup {
			return fmt.Errorf("parameter %q named twice: %w", n, berr.ErrInvalidHandler)
		}

		seen[n] = struct{}{}
	}

	return nil
}

func inspectReturns(ft reflect.Type, sh *shape) error {
	sh.numOut = ft.NumOut()

	switch sh.numOut {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			sh.errOut = true
		} else {
			sh.value = true
		}
	case 2:
		if ft.Out(1) != errorType {
			return fmt.Errorf("second return value of %s must be error: %w", ft, berr.ErrInvalidHandler)
		}

		sh.value = true
		sh.errOut = true
	default:
		return fmt.Errorf("handler %s returns %d values: %w", ft, sh.numOut, berr.ErrInvalidHandler)
	}

	return nil
}

// endpointName returns name, or the handler's function name when name is empty.
func endpointName(name string, handler any) string {
	if name != "" {
		return name
	}

	v := reflect.ValueOf(handler)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}

	fn := runtime.FuncForPC(v.Pointer())
	if fn == nil {
		return ""
	}

	full := strings.TrimSuffix(fn.Name(), "-fm")
	if i := strings.LastIndex(full, "."); i >= 0 {
		full = full[i+1:]
	}

	return full
}

// Invoke converts the request into handler arguments, calls the handler and converts its result.
// It never sends a reply; see Dispatcher.
func (e *EndpointDefinition) Invoke(ctx context.Context, req transport.Request) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	tracked := &replyTracker{Request: req}

	args, err := e.arguments(ctx, tracked)
	if err != nil {
		return Result{}, fmt.Errorf("invoke %s: %w", e.label(), err)
	}

	out, err := e.call(args)

	var res Result
	if err == nil {
		res, err = e.result(out)
	}

	if tracked.replied.Load() {
		// The request is answered; an error reply now would be a second message.
		if err != nil {
			e.service.logger.WarnContext(ctx, "handler replied and then failed; error not sent",
				"service", e.service.name, "endpoint", e.name, "err", err)
		} else if res.Kind() == ResultPayload {
			e.service.logger.WarnContext(ctx, "handler replied and returned a payload; payload dropped",
				"service", e.service.name, "endpoint", e.name)
		}

		return AlreadyReplied(), nil
	}

	if err != nil {
		return Result{}, fmt.Errorf("invoke %s: %w", e.label(), err)
	}

	return res, nil
}

func (e *EndpointDefinition) arguments(ctx context.Context, req transport.Request) ([]reflect.Value, error) {
	args := make([]reflect.Value, 0, e.shape.numInput)

	if e.shape.receiver {
		inst := e.service.singleton()
		if !inst.IsValid() {
			return nil, fmt.Errorf("service %s is not resolved: %w", e.service.name, berr.ErrResolveFailed)
		}

		if e.shape.receiverByValue {
			inst = inst.Elem()
		}

		args = append(args, inst)
	}

	if e.shape.context {
		args = append(args, reflect.ValueOf(&ctx).Elem())
	}

	if e.shape.request {
		args = append(args, reflect.ValueOf(&req).Elem())
	}

	payload, err := decodeArgs(e.shape, req.Data())
	if err != nil {
		return nil, err
	}

	return append(args, payload...), nil
}

func (e *EndpointDefinition) call(args []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", berr.ErrHandlerPanic, p)
		}
	}()

	if e.service.serialized {
		e.service.invokeMu.Lock()
		defer e.service.invokeMu.Unlock()
	}

	return e.fn.Call(args), nil
}

func (e *EndpointDefinition) result(out []reflect.Value) (Result, error) {
	if e.shape.errOut {
		if ev := out[len(out)-1]; !ev.IsNil() {
			herr, _ := ev.Interface().(error)

			return Result{}, herr
		}
	}

	if !e.shape.value {
		return NoResponse(), nil
	}

	return encodeResult(out[0])
}

// replyTracker records whether a handler answered through the raw request.
type replyTracker struct {
	transport.Request
	replied atomic.Bool
}

func (r *replyTracker) Respond(data []byte) error {
	r.replied.Store(true)

	return r.Request.Respond(data)
}

func (r *replyTracker) Error(code, description string, data []byte) error {
	r.replied.Store(true)

	return r.Request.Error(code, description, data)
}

func decodingError(label string, cause error) error {
	return fmt.Errorf("%s: %w", label, errors.Join(berr.ErrPayloadDecoding, cause))
}
