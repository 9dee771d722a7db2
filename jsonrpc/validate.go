package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Location anchors used by validators. Errors located under
// body.__request__.params.<field> are parameter errors; anything else under
// body.__request__ is an envelope error; any other anchor (headers, query)
// is reported as an envelope error unchanged.
const (
	LocBody    = "body"
	LocRequest = "__request__"
	LocParams  = "params"
)

// envelopeFields lists the request members in validation order.
var envelopeFields = []string{"jsonrpc", "id", "method", "params"}

var (
	errNotADict = FieldError{Loc: Loc{}, Msg: "value is not a valid dict", Type: "type_error.dict"}
	errEmpty    = FieldError{Loc: Loc{}, Msg: "rpc call with an empty array", Type: "value_error.empty"}
)

// ClassifyValidationErrors turns validation failures into a single JSON-RPC
// error. Envelope errors win: parameter errors are only reported when there
// are no envelope errors at all.
func ClassifyValidationErrors(errs []FieldError) *Error {
	var paramsErrors, requestErrors []FieldError

	for _, fe := range errs {
		switch {
		case hasPrefix(fe.Loc, LocBody, LocRequest, LocParams) && len(fe.Loc) > 3:
			fe.Loc = append(Loc{}, fe.Loc[3:]...)
			paramsErrors = append(paramsErrors, fe)
		case hasPrefix(fe.Loc, LocBody, LocRequest):
			fe.Loc = append(Loc{}, fe.Loc[2:]...)
			requestErrors = append(requestErrors, fe)
		default:
			requestErrors = append(requestErrors, fe)
		}
	}

	if len(requestErrors) > 0 {
		return InvalidRequest.New(ErrorData{Errors: requestErrors})
	}
	return InvalidParams.New(ErrorData{Errors: paramsErrors})
}

func hasPrefix(loc Loc, prefix ...string) bool {
	if len(loc) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if s, ok := loc[i].(string); !ok || s != p {
			return false
		}
	}
	return true
}

func anchored(segments ...any) Loc {
	return append(Loc{LocBody, LocRequest}, segments...)
}

// parseEnvelope validates one raw batch item against the request shape.
// Unknown members are rejected; params must be an object. A non-empty
// expected pins the method member to that exact value.
func parseEnvelope(raw json.RawMessage, expected string) (*Request, *Error) {
	if !isObject(raw) {
		return nil, InvalidRequest.New(ErrorData{Errors: []FieldError{errNotADict}})
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, InvalidRequest.New(ErrorData{Errors: []FieldError{errNotADict}})
	}

	var errs []FieldError
	req := &Request{JSONRPC: Version}

	// An absent version member defaults to "2.0".
	if value, ok := members["jsonrpc"]; ok {
		if s, ok := decodeString(value); !ok {
			errs = append(errs, strExpected("jsonrpc"))
		} else if s != Version {
			errs = append(errs, FieldError{
				Loc:  anchored("jsonrpc"),
				Msg:  fmt.Sprintf("unexpected value; permitted: '%s'", Version),
				Type: "value_error.const",
				Ctx:  map[string]any{"given": s, "permitted": []string{Version}},
			})
		}
	}

	if value, ok := members["id"]; ok {
		if id, ok := normalizeID(value); ok {
			req.ID = id
		} else {
			// The id is either a string or an integer; report both alternatives.
			errs = append(errs,
				strExpected("id"),
				FieldError{Loc: anchored("id"), Msg: "value is not a valid integer", Type: "type_error.integer"},
			)
		}
	}

	if value, ok := members["method"]; !ok {
		errs = append(errs, missing("method"))
	} else if s, ok := decodeString(value); !ok {
		errs = append(errs, strExpected("method"))
	} else if expected != "" && s != expected {
		errs = append(errs, FieldError{
			Loc:  anchored("method"),
			Msg:  fmt.Sprintf("unexpected value; permitted: '%s'", expected),
			Type: "value_error.const",
			Ctx:  map[string]any{"given": s, "permitted": []string{expected}},
		})
	} else {
		req.Method = s
	}

	if value, ok := members["params"]; !ok {
		errs = append(errs, missing("params"))
	} else if !isObject(value) {
		errs = append(errs, FieldError{Loc: anchored("params"), Msg: errNotADict.Msg, Type: errNotADict.Type})
	} else {
		req.Params = value
	}

	extras := make([]string, 0)
	for name := range members {
		if !isEnvelopeField(name) {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		errs = append(errs, FieldError{Loc: anchored(name), Msg: "extra fields not permitted", Type: "value_error.extra"})
	}

	if len(errs) > 0 {
		return nil, ClassifyValidationErrors(errs)
	}
	return req, nil
}

func isEnvelopeField(name string) bool {
	for _, field := range envelopeFields {
		if field == name {
			return true
		}
	}
	return false
}

func missing(field string) FieldError {
	return FieldError{Loc: anchored(field), Msg: "field required", Type: "value_error.missing"}
}

func strExpected(field string) FieldError {
	return FieldError{Loc: anchored(field), Msg: "str type expected", Type: "type_error.str"}
}

func decodeString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

// normalizeID accepts a string, an integer or null. An integral number
// written in float or exponent form is normalized to its integer text.
func normalizeID(raw json.RawMessage) (json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false
	}
	switch trimmed[0] {
	case '"':
		_, ok := decodeString(trimmed)
		return trimmed, ok
	case 'n':
		return trimmed, string(trimmed) == "null"
	case 't', 'f', '{', '[':
		return nil, false
	}
	if _, err := strconv.ParseInt(string(trimmed), 10, 64); err == nil {
		return trimmed, true
	}
	f, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, false
	}
	return json.RawMessage(strconv.FormatInt(int64(f), 10)), true
}
