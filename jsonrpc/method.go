package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	ErrMethodExists    = errors.New("method already registered")
	ErrReservedName    = errors.New("name reserved")
	ErrInvalidHandler  = errors.New("invalid handler")
	ErrEmptyMethodName = errors.New("method name cannot be empty")
)

// HandlerFunc handles one method. params is the bound, validated parameter
// struct; per-call shared values and background tasks are reachable from ctx.
// Returning an *Error reports a declared application error to the client;
// any other error is logged and reported as InternalError.
type HandlerFunc[P, R any] func(ctx context.Context, params P) (R, error)

// Method is a registered method: a name, its handler and the errors it
// declares. It is immutable once registered.
type Method struct {
	name    string
	doc     string
	errors  []*Kind
	params  reflect.Type
	invoke  func(ctx context.Context, params any) (any, error)
	newArgs func() any
}

// MethodOption configures a Method.
type MethodOption func(*Method)

// WithErrors declares the application errors a method may return.
func WithErrors(kinds ...*Kind) MethodOption {
	return func(m *Method) {
		m.errors = append(m.errors, kinds...)
	}
}

// WithDoc attaches a description to a method.
func WithDoc(doc string) MethodOption {
	return func(m *Method) {
		m.doc = doc
	}
}

// NewMethod wraps a typed handler. P must be a struct type; use struct{} for
// methods without parameters.
func NewMethod[P, R any](name string, fn HandlerFunc[P, R], opts ...MethodOption) (*Method, error) {
	if fn == nil {
		return nil, fmt.Errorf("method %q: handler is nil: %w", name, ErrInvalidHandler)
	}

	paramsType := reflect.TypeFor[P]()
	if paramsType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("method %q: params must be a struct, got %v: %w", name, paramsType.Kind(), ErrInvalidHandler)
	}
	for i := range paramsType.NumField() {
		if jsonName(paramsType.Field(i)) == LocRequest {
			return nil, fmt.Errorf("method %q: parameter name %q: %w", name, LocRequest, ErrReservedName)
		}
	}

	m := &Method{
		name:   name,
		params: paramsType,
		newArgs: func() any {
			return new(P)
		},
		invoke: func(ctx context.Context, params any) (any, error) {
			return fn(ctx, *params.(*P))
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Method) Name() string { return m.name }
func (m *Method) Doc() string  { return m.doc }

// Errors returns the declared error kinds.
func (m *Method) Errors() []*Kind {
	return append([]*Kind(nil), m.errors...)
}

// ParamNames lists the json member names of the parameter struct.
func (m *Method) ParamNames() []string {
	names := make([]string, 0, m.params.NumField())
	for i := range m.params.NumField() {
		field := m.params.Field(i)
		if !field.IsExported() {
			continue
		}
		if name := jsonName(field); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// call runs the handler, turning a panic into an ordinary error.
func (m *Method) call(ctx context.Context, params any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in method %q: %v", m.name, r)
		}
	}()
	return m.invoke(ctx, params)
}

// Registrar accepts method registrations. Both *Registry and *Entrypoint implement it.
type Registrar interface {
	Add(m *Method) error
}

// Register builds a method from a typed handler and adds it to r.
func Register[P, R any](r Registrar, name string, fn HandlerFunc[P, R], opts ...MethodOption) error {
	m, err := NewMethod(name, fn, opts...)
	if err != nil {
		return err
	}
	return r.Add(m)
}

// MustRegister is like Register but panics on configuration errors.
func MustRegister[P, R any](r Registrar, name string, fn HandlerFunc[P, R], opts ...MethodOption) {
	if err := Register(r, name, fn, opts...); err != nil {
		panic("jsonrpc: " + err.Error())
	}
}

func validMethodName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyMethodName
	}
	if name == LocRequest {
		return fmt.Errorf("method %q: %w", name, ErrReservedName)
	}
	return nil
}
