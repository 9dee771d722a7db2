package jsonrpc

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/go-playground/validator/v10"
)

// Binder converts the raw params object of a request into a handler's
// parameter value. dst is a pointer to the zero value of the parameter type.
// Failures are reported with locations relative to params.
type Binder interface {
	Bind(raw json.RawMessage, dst any) []FieldError
}

// StructBinder decodes params with encoding/json and checks `validate` tags
// with go-playground/validator. Unknown members are ignored.
type StructBinder struct {
	validate *validator.Validate
}

// NewStructBinder creates a binder whose locations use json member names.
func NewStructBinder() *StructBinder {
	v := validator.New()
	v.RegisterTagNameFunc(jsonName)
	return &StructBinder{validate: v}
}

// Validator exposes the underlying validator so callers can register custom tags.
func (b *StructBinder) Validator() *validator.Validate {
	return b.validate
}

func (b *StructBinder) Bind(raw json.RawMessage, dst any) []FieldError {
	if err := json.Unmarshal(raw, dst); err != nil {
		if errs := locateDecodeErrors(raw, reflect.TypeOf(dst), Loc{}); len(errs) > 0 {
			return errs
		}
		return []FieldError{decodeFieldError(err)}
	}

	err := b.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return []FieldError{{Loc: Loc{}, Msg: invalid.Error(), Type: "value_error"}}
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []FieldError{{Loc: Loc{}, Msg: err.Error(), Type: "value_error"}}
	}

	out := make([]FieldError, 0, len(validationErrors))
	for _, fe := range validationErrors {
		out = append(out, convertFieldError(fe))
	}
	return out
}

func jsonName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return field.Name
	}
	return name
}

func convertFieldError(fe validator.FieldError) FieldError {
	out := FieldError{Loc: namespaceLoc(fe.Namespace())}

	switch fe.Tag() {
	case "required", "required_if", "required_unless", "required_with", "required_without":
		out.Msg = "field required"
		out.Type = "value_error.missing"
	case "min", "gte":
		out.Msg = fmt.Sprintf("ensure this value is greater than or equal to %s", fe.Param())
		out.Type = "value_error.number.not_ge"
		out.Ctx = map[string]any{"limit_value": fe.Param()}
	case "max", "lte":
		out.Msg = fmt.Sprintf("ensure this value is less than or equal to %s", fe.Param())
		out.Type = "value_error.number.not_le"
		out.Ctx = map[string]any{"limit_value": fe.Param()}
	case "gt":
		out.Msg = fmt.Sprintf("ensure this value is greater than %s", fe.Param())
		out.Type = "value_error.number.not_gt"
		out.Ctx = map[string]any{"limit_value": fe.Param()}
	case "lt":
		out.Msg = fmt.Sprintf("ensure this value is less than %s", fe.Param())
		out.Type = "value_error.number.not_lt"
		out.Ctx = map[string]any{"limit_value": fe.Param()}
	case "oneof":
		out.Msg = fmt.Sprintf("value is not a valid enumeration member; permitted: %s", fe.Param())
		out.Type = "type_error.enum"
		out.Ctx = map[string]any{"enum_values": strings.Fields(fe.Param())}
	default:
		out.Msg = fmt.Sprintf("failed on the '%s' validation", fe.Tag())
		out.Type = "value_error." + fe.Tag()
		if fe.Param() != "" {
			out.Ctx = map[string]any{"param": fe.Param()}
		}
	}
	return out
}

// namespaceLoc turns "Params.items[0].name" into ["items", 0, "name"],
// dropping the leading struct name.
func namespaceLoc(namespace string) Loc {
	parts := strings.Split(namespace, ".")
	if len(parts) > 0 {
		parts = parts[1:]
	}
	loc := Loc{}
	for _, part := range parts {
		for part != "" {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				loc = append(loc, part)
				break
			}
			if open > 0 {
				loc = append(loc, part[:open])
			}
			closing := strings.IndexByte(part[open:], ']')
			if closing < 0 {
				loc = append(loc, part[open:])
				break
			}
			index := part[open+1 : open+closing]
			if n, err := strconv.Atoi(index); err == nil {
				loc = append(loc, n)
			} else {
				loc = append(loc, index)
			}
			part = part[open+closing+1:]
		}
	}
	return loc
}

func decodeFieldError(err error) FieldError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		loc := Loc{}
		if typeErr.Field != "" {
			for _, segment := range strings.Split(typeErr.Field, ".") {
				loc = append(loc, segment)
			}
		}
		msg, kind := typeMismatch(typeErr.Type)
		return FieldError{Loc: loc, Msg: msg, Type: kind}
	}
	return FieldError{Loc: Loc{}, Msg: err.Error(), Type: "value_error"}
}

func typeMismatch(t reflect.Type) (string, string) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "value is not a valid integer", "type_error.integer"
	case reflect.Float32, reflect.Float64:
		return "value is not a valid float", "type_error.float"
	case reflect.String:
		return "str type expected", "type_error.str"
	case reflect.Bool:
		return "value could not be parsed to a boolean", "type_error.bool"
	case reflect.Slice, reflect.Array:
		return "value is not a valid list", "type_error.list"
	case reflect.Map, reflect.Struct:
		return "value is not a valid dict", "type_error.dict"
	}
	return fmt.Sprintf("value is not a valid %s", t.Kind()), "type_error"
}

var (
	jsonUnmarshalerType = reflect.TypeFor[json.Unmarshaler]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
	timeType            = reflect.TypeFor[time.Time]()
)

// locateDecodeErrors walks raw alongside t and reports every value that
// cannot be decoded, located by member names and array indexes. It is only
// consulted once a full decode has failed.
func locateDecodeErrors(raw []byte, t reflect.Type, loc Loc) []FieldError {
	_, dataType, _, err := jsonparser.Get(raw)
	if err != nil || dataType == jsonparser.Null {
		return nil
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	ptr := reflect.PointerTo(t)
	if ptr.Implements(jsonUnmarshalerType) || ptr.Implements(textUnmarshalerType) {
		return decodeLeaf(raw, t, loc)
	}

	switch t.Kind() {
	case reflect.Struct:
		if dataType != jsonparser.Object {
			return mismatchAt(t, loc)
		}
		var members map[string]json.RawMessage
		if err := json.Unmarshal(raw, &members); err != nil {
			return nil
		}
		return locateStructErrors(members, t, loc)

	case reflect.Slice, reflect.Array:
		if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
			return decodeLeaf(raw, t, loc)
		}
		if dataType != jsonparser.Array {
			return mismatchAt(t, loc)
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		var errs []FieldError
		for i, item := range items {
			errs = append(errs, locateDecodeErrors(item, t.Elem(), withSegment(loc, i))...)
		}
		return errs

	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return decodeLeaf(raw, t, loc)
		}
		if dataType != jsonparser.Object {
			return mismatchAt(t, loc)
		}
		var members map[string]json.RawMessage
		if err := json.Unmarshal(raw, &members); err != nil {
			return nil
		}
		keys := make([]string, 0, len(members))
		for key := range members {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var errs []FieldError
		for _, key := range keys {
			errs = append(errs, locateDecodeErrors(members[key], t.Elem(), withSegment(loc, key))...)
		}
		return errs

	case reflect.Interface:
		return nil
	}
	return decodeLeaf(raw, t, loc)
}

func locateStructErrors(members map[string]json.RawMessage, t reflect.Type, loc Loc) []FieldError {
	var errs []FieldError
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("json")
		if field.Anonymous && tag == "" {
			embedded := field.Type
			for embedded.Kind() == reflect.Pointer {
				embedded = embedded.Elem()
			}
			if embedded.Kind() == reflect.Struct {
				errs = append(errs, locateStructErrors(members, embedded, loc)...)
				continue
			}
		}
		if !field.IsExported() || strings.Contains(tag, ",string") {
			continue
		}
		name := jsonName(field)
		if name == "" {
			continue
		}
		value, ok := lookupMember(members, name)
		if !ok {
			continue
		}
		errs = append(errs, locateDecodeErrors(value, field.Type, withSegment(loc, name))...)
	}
	return errs
}

// lookupMember matches like encoding/json: exact name first, then case-insensitively.
func lookupMember(members map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	if value, ok := members[name]; ok {
		return value, true
	}
	for key, value := range members {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return nil, false
}

func decodeLeaf(raw []byte, t reflect.Type, loc Loc) []FieldError {
	err := json.Unmarshal(raw, reflect.New(t).Interface())
	if err == nil {
		return nil
	}
	if t == timeType {
		return []FieldError{{Loc: loc, Msg: "invalid datetime format", Type: "value_error.datetime"}}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return mismatchAt(t, loc)
	}
	return []FieldError{{Loc: loc, Msg: err.Error(), Type: "value_error"}}
}

func mismatchAt(t reflect.Type, loc Loc) []FieldError {
	msg, kind := typeMismatch(t)
	return []FieldError{{Loc: loc, Msg: msg, Type: kind}}
}

func withSegment(loc Loc, segment any) Loc {
	out := make(Loc, 0, len(loc)+1)
	out = append(out, loc...)
	return append(out, segment)
}
