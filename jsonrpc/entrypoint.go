package jsonrpc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/slighter12/jsonrpc-entrypoint/logger"
)

// Entrypoint is one HTTP endpoint speaking JSON-RPC 2.0. It owns the method
// registry and the scheduler batch items are spawned on.
type Entrypoint struct {
	path     string
	name     string
	errors   []*Kind
	registry *Registry
	resolver ContextResolver
	exec     *executor

	schedulerFactory SchedulerFactory
	scheduler        Scheduler
	schedulerMutex   sync.Mutex
	shutdown         bool
}

// EntrypointOption configures an Entrypoint.
type EntrypointOption func(*Entrypoint)

// WithName sets the entrypoint name shown in metadata. Defaults to "entrypoint".
func WithName(name string) EntrypointOption {
	return func(e *Entrypoint) {
		e.name = name
	}
}

// WithEntrypointErrors replaces the error kinds documented for the whole entrypoint.
func WithEntrypointErrors(kinds ...*Kind) EntrypointOption {
	return func(e *Entrypoint) {
		e.errors = append([]*Kind(nil), kinds...)
	}
}

// WithResolver sets the collaborator producing per-call shared values.
func WithResolver(resolver ContextResolver) EntrypointOption {
	return func(e *Entrypoint) {
		e.resolver = resolver
	}
}

// WithBinder replaces the params binder.
func WithBinder(binder Binder) EntrypointOption {
	return func(e *Entrypoint) {
		e.exec.binder = binder
	}
}

// WithSchedulerFactory sets how the batch scheduler is created.
func WithSchedulerFactory(factory SchedulerFactory) EntrypointOption {
	return func(e *Entrypoint) {
		e.schedulerFactory = factory
	}
}

// NewEntrypoint creates an entrypoint mounted at path.
func NewEntrypoint(path string, opts ...EntrypointOption) *Entrypoint {
	registry := NewRegistry()
	e := &Entrypoint{
		path:             "/" + strings.Trim(path, "/"),
		name:             "entrypoint",
		errors:           append([]*Kind(nil), DefaultErrors...),
		registry:         registry,
		exec:             &executor{registry: registry, binder: NewStructBinder()},
		schedulerFactory: PoolSchedulerFactory(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Entrypoint) Path() string { return e.path }
func (e *Entrypoint) Name() string { return e.name }

// Errors returns the error kinds documented for the entrypoint.
func (e *Entrypoint) Errors() []*Kind {
	return append([]*Kind(nil), e.errors...)
}

// Add registers a method; see Registry.Add.
func (e *Entrypoint) Add(m *Method) error {
	if err := e.registry.Add(m); err != nil {
		return fmt.Errorf("entrypoint %s: %w", e.path, err)
	}
	return nil
}

// Methods returns the registered methods sorted by name.
func (e *Entrypoint) Methods() []*Method {
	return e.registry.Methods()
}

// Resolve looks up a registered method.
func (e *Entrypoint) Resolve(name string) (*Method, bool) {
	return e.registry.Resolve(name)
}

// MethodPath returns the dedicated route of a method.
func (e *Entrypoint) MethodPath(name string) string {
	return strings.TrimSuffix(e.path, "/") + "/" + name
}

// getScheduler creates the scheduler on first use. Concurrent first calls
// observe the same instance.
func (e *Entrypoint) getScheduler() (Scheduler, error) {
	e.schedulerMutex.Lock()
	defer e.schedulerMutex.Unlock()

	if e.shutdown {
		return nil, ErrSchedulerClosed
	}
	if e.scheduler != nil {
		return e.scheduler, nil
	}
	scheduler, err := e.schedulerFactory()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	e.scheduler = scheduler
	logger.Debug("Scheduler created", "entrypoint", e.path)
	return scheduler, nil
}

// Shutdown releases the scheduler. Batches arriving afterwards run inline.
func (e *Entrypoint) Shutdown(ctx context.Context) error {
	e.schedulerMutex.Lock()
	scheduler := e.scheduler
	e.scheduler = nil
	e.shutdown = true
	e.schedulerMutex.Unlock()

	if scheduler == nil {
		return nil
	}
	logger.Info("Closing scheduler", "entrypoint", e.path)
	return scheduler.Close(ctx)
}

// ErrorInfo documents one error kind.
type ErrorInfo struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	Description string    `json:"description"`
}

// MethodInfo documents one method.
type MethodInfo struct {
	Name   string      `json:"name"`
	Path   string      `json:"path"`
	Doc    string      `json:"doc,omitempty"`
	Params []string    `json:"params"`
	Errors []ErrorInfo `json:"errors"`
}

// Metadata documents an entrypoint. Declared errors are informational only.
type Metadata struct {
	Name    string       `json:"name"`
	Path    string       `json:"path"`
	Errors  []ErrorInfo  `json:"errors"`
	Methods []MethodInfo `json:"methods"`
}

// Describe returns the entrypoint metadata.
func (e *Entrypoint) Describe() Metadata {
	meta := Metadata{
		Name:    e.name,
		Path:    e.path,
		Errors:  describeKinds(e.errors),
		Methods: make([]MethodInfo, 0, e.registry.Len()),
	}
	for _, m := range e.registry.Methods() {
		meta.Methods = append(meta.Methods, MethodInfo{
			Name:   m.name,
			Path:   e.MethodPath(m.name),
			Doc:    m.doc,
			Params: m.ParamNames(),
			Errors: describeKinds(m.errors),
		})
	}
	return meta
}

func describeKinds(kinds []*Kind) []ErrorInfo {
	out := make([]ErrorInfo, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, ErrorInfo{Code: k.code, Message: k.message, Description: k.Description()})
	}
	return out
}
