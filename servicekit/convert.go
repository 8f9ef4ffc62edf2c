package servicekit

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	berr "github.com/next-trace/scg-micro/contract/errors"
)

var (
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

// decodeArgs converts payload into the payload parameters described by sh.
func decodeArgs(sh shape, payload []byte) ([]reflect.Value, error) {
	switch sh.strategy {
	case StrategyNone:
		return nil, nil
	case StrategyRawBytes:
		return []reflect.Value{rawBytes(sh.params[0], payload)}, nil
	case StrategyMutableBytes:
		return []reflect.Value{reflect.ValueOf(bytes.NewBuffer(bytes.Clone(payload)))}, nil
	case StrategyText:
		if !utf8.Valid(payload) {
			return nil, decodingError("decode text", errors.New("payload is not valid UTF-8"))
		}

		return []reflect.Value{reflect.ValueOf(string(payload)).Convert(sh.params[0])}, nil
	case StrategyJSON:
		v, err := decodeJSON(sh.params[0], payload)
		if err != nil {
			return nil, decodingError("decode json", err)
		}

		return []reflect.Value{v}, nil
	case StrategyNamedFields:
		return decodeNamed(sh, payload)
	default:
		return nil, decodingError("decode", fmt.Errorf("unknown strategy %s", sh.strategy))
	}
}

func rawBytes(t reflect.Type, payload []byte) reflect.Value {
	if t.Kind() == reflect.Interface {
		v := reflect.New(t).Elem()
		v.Set(reflect.ValueOf(payload))

		return v
	}

	return reflect.ValueOf(payload).Convert(t)
}

func decodeJSON(t reflect.Type, raw []byte) (reflect.Value, error) {
	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}

	return ptr.Elem(), nil
}

// decodeNamed binds the fields of a JSON object to parameters by name.
// Fields without a matching parameter are ignored.
func decodeNamed(sh shape, payload []byte) ([]reflect.Value, error) {
	if !gjson.ValidBytes(payload) {
		return nil, decodingError("decode named arguments", errors.New("payload is not valid JSON"))
	}

	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil, decodingError("decode named arguments", errors.New("payload is not a JSON object"))
	}

	args := make([]reflect.Value, len(sh.params))

	for i, name := range sh.names {
		field := root.Get(gjson.Escape(name))
		if !field.Exists() {
			return nil, fmt.Errorf("decode named arguments: argument %q: %w",
				name, errors.Join(berr.ErrPayloadDecoding, berr.ErrMissingArgument))
		}

		v, err := decodeJSON(sh.params[i], []byte(field.Raw))
		if err != nil {
			return nil, decodingError(fmt.Sprintf("decode argument %q", name), err)
		}

		args[i] = v
	}

	return args, nil
}

// encodeResult converts a handler's return value into a Result.
// Nil interfaces, pointers, maps and non-byte slices mean no response. Bytes are sent verbatim,
// a nil byte slice as an empty payload; text as UTF-8, scalars as their decimal text and
// everything else as JSON.
func encodeResult(v reflect.Value) (Result, error) {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return NoResponse(), nil
		}

		v = v.Elem()
	}

	if v.Type() == resultType {
		r, _ := v.Interface().(Result)

		return r, nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Map:
		if v.IsNil() {
			return NoResponse(), nil
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return Payload(bytes.Clone(v.Bytes())), nil
		}

		if v.IsNil() {
			return NoResponse(), nil
		}
	case reflect.String:
		if !marshals(v.Type()) {
			return Payload([]byte(v.String())), nil
		}
	case reflect.Bool:
		if !marshals(v.Type()) {
			return Payload([]byte(strconv.FormatBool(v.Bool()))), nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if !marshals(v.Type()) {
			return Payload([]byte(strconv.FormatInt(v.Int(), 10))), nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if !marshals(v.Type()) {
			return Payload([]byte(strconv.FormatUint(v.Uint(), 10))), nil
		}
	case reflect.Float32, reflect.Float64:
		if !marshals(v.Type()) {
			return Payload([]byte(strconv.FormatFloat(v.Float(), 'g', -1, v.Type().Bits()))), nil
		}
	}

	b, err := json.Marshal(v.Interface())
	if err != nil {
		return Result{}, fmt.Errorf("encode %s: %w", v.Type(), errors.Join(berr.ErrResultEncoding, err))
	}

	return Payload(b), nil
}

// marshals reports whether t brings its own JSON or text encoding, which then wins over
// the plain scalar rendering.
func marshals(t reflect.Type) bool {
	return t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType) ||
		reflect.PointerTo(t).Implements(jsonMarshalerType)
}
