package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

type ErrorCode int

// JSON-RPC 2.0 Error Codes
const (
	CodeParseError     ErrorCode = -32700 // Invalid JSON was received by the server
	CodeInvalidRequest ErrorCode = -32600 // The JSON sent is not a valid Request object
	CodeMethodNotFound ErrorCode = -32601 // The method does not exist / is not available
	CodeInvalidParams  ErrorCode = -32602 // Invalid method parameter(s)
	CodeInternalError  ErrorCode = -32603 // Internal JSON-RPC error
)

// Kind is one class of JSON-RPC error. Its code and message never change;
// per-occurrence detail lives in Error.Data.
type Kind struct {
	code    ErrorCode
	message string
	doc     string
}

// NewKind defines an error kind. Applications use it for their own codes.
func NewKind(code ErrorCode, message, doc string) *Kind {
	return &Kind{code: code, message: message, doc: doc}
}

// Built-in kinds.
var (
	ParseError     = NewKind(CodeParseError, "Parse error", "Invalid JSON was received by the server")
	InvalidRequest = NewKind(CodeInvalidRequest, "Invalid Request", "The JSON sent is not a valid Request object")
	MethodNotFound = NewKind(CodeMethodNotFound, "Method not found", "The method does not exist / is not available")
	InvalidParams  = NewKind(CodeInvalidParams, "Invalid params", "Invalid method parameter(s)")
	InternalError  = NewKind(CodeInternalError, "Internal error", "Internal JSON-RPC error")
)

// DefaultErrors are the kinds every entrypoint documents unless told otherwise.
var DefaultErrors = []*Kind{InvalidParams, MethodNotFound, ParseError, InvalidRequest, InternalError}

func (k *Kind) Code() ErrorCode { return k.code }
func (k *Kind) Message() string { return k.message }

// Description renders "[code] message" followed by the kind's doc, if any.
func (k *Kind) Description() string {
	s := fmt.Sprintf("[%d] %s", k.code, k.message)
	if k.doc != "" {
		s += "\n\n" + k.doc
	}
	return s
}

// Error lets a Kind be used as an errors.Is target.
func (k *Kind) Error() string {
	return fmt.Sprintf("[%d] %s", k.code, k.message)
}

// New creates an error of this kind. data may be nil.
func (k *Kind) New(data any) *Error {
	return &Error{Kind: k, Data: data}
}

// Errorf creates an error of this kind whose data is {"details": <formatted>}.
func (k *Kind) Errorf(format string, args ...any) *Error {
	return k.New(map[string]any{"details": fmt.Sprintf(format, args...)})
}

// Error is a JSON-RPC error occurrence. Handlers return it to report a
// declared application error; the engine produces it for protocol failures.
type Error struct {
	Kind *Kind
	Data any

	// request is the raw item that produced the error. Only used to echo its id.
	request json.RawMessage
}

func (e *Error) Error() string {
	s := e.Kind.Error()
	if !isEmpty(e.Data) {
		s += fmt.Sprintf(": %v", e.Data)
	}
	return s
}

// Is matches errors of the same kind, whether the target is a *Kind or an *Error.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case *Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

func (e *Error) Code() ErrorCode { return e.Kind.code }

// bind returns a copy of e attached to the raw request it answers. Copying keeps
// package-level error values safe to return from concurrent handlers.
func (e *Error) bind(raw json.RawMessage) *Error {
	out := *e
	out.request = raw
	return &out
}

// Object builds the wire error object; data is omitted when empty.
func (e *Error) Object() *ErrorObject {
	obj := &ErrorObject{Code: e.Kind.code, Message: e.Kind.message}
	if !isEmpty(e.Data) {
		obj.Data = e.Data
	}
	return obj
}

// Response wraps the error in an envelope. The id comes from the bound request
// when it was an object with an id member, otherwise it is null.
func (e *Error) Response() *Response {
	return &Response{
		JSONRPC: Version,
		ID:      requestID(e.request),
		Error:   e.Object(),
	}
}

// AsError unwraps err into a JSON-RPC error, if it is one.
func AsError(err error) (*Error, bool) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) && rpcErr != nil && rpcErr.Kind != nil {
		return rpcErr, true
	}
	return nil, false
}

// IsError checks if the error is a JSON-RPC error with the given code
func IsError(err error, code ErrorCode) bool {
	rpcErr, ok := AsError(err)
	return ok && rpcErr.Kind.code == code
}

// IsParseError checks if the error is a parse error
func IsParseError(err error) bool {
	return IsError(err, CodeParseError)
}

// IsInvalidRequest checks if the error is an invalid request error
func IsInvalidRequest(err error) bool {
	return IsError(err, CodeInvalidRequest)
}

// IsMethodNotFound checks if the error is a method not found error
func IsMethodNotFound(err error) bool {
	return IsError(err, CodeMethodNotFound)
}

// IsInvalidParams checks if the error is an invalid params error
func IsInvalidParams(err error) bool {
	return IsError(err, CodeInvalidParams)
}

// IsInternalError checks if the error is an internal error
func IsInternalError(err error) bool {
	return IsError(err, CodeInternalError)
}

// FieldError is one validation failure. Loc is the path to the offending value.
type FieldError struct {
	Loc  Loc            `json:"loc"`
	Msg  string         `json:"msg"`
	Type string         `json:"type"`
	Ctx  map[string]any `json:"ctx,omitempty"`
}

// Loc is a location path made of member names (string) and array indexes (int).
type Loc []any

// MarshalJSON renders a nil Loc as [] rather than null.
func (l Loc) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]any(l))
}

// ErrorData is the data payload of InvalidRequest and InvalidParams.
type ErrorData struct {
	Errors []FieldError `json:"errors"`
}

// TransportError is returned by collaborators (context resolvers) for failures
// that belong to HTTP, not to JSON-RPC.
type TransportError struct {
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TransportError) Unwrap() error { return e.Err }

func isEmpty(data any) bool {
	if data == nil {
		return true
	}
	v := reflect.ValueOf(data)
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	}
	return false
}
