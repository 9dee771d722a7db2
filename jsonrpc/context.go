package jsonrpc

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"sync"

	"github.com/slighter12/jsonrpc-entrypoint/logger"
)

// Shared holds the injectable values resolved once per HTTP call. It is
// read-only and shared by every item of a batch.
type Shared struct {
	values map[string]any
}

// NewShared copies values into a Shared set.
func NewShared(values map[string]any) Shared {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return Shared{values: copied}
}

// Value returns the value stored under key.
func (s Shared) Value(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the stored keys in sorted order.
func (s Shared) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored values.
func (s Shared) Len() int {
	return len(s.values)
}

// merge returns a new set holding s overlaid with other.
func (s Shared) merge(other Shared) Shared {
	out := make(map[string]any, len(s.values)+len(other.values))
	for k, v := range s.values {
		out[k] = v
	}
	for k, v := range other.values {
		out[k] = v
	}
	return Shared{values: out}
}

// ContextResolver produces the shared values for one HTTP call. Its errors
// are transport failures and are never turned into JSON-RPC errors.
type ContextResolver interface {
	Resolve(r *http.Request) (Shared, error)
}

// ResolverFunc adapts a function to ContextResolver.
type ResolverFunc func(r *http.Request) (Shared, error)

func (f ResolverFunc) Resolve(r *http.Request) (Shared, error) {
	return f(r)
}

// ChainResolvers runs resolvers in order and merges their values; later
// resolvers win on key collisions. The first error stops the chain.
func ChainResolvers(resolvers ...ContextResolver) ContextResolver {
	return ResolverFunc(func(r *http.Request) (Shared, error) {
		out := Shared{}
		for _, resolver := range resolvers {
			if resolver == nil {
				continue
			}
			values, err := resolver.Resolve(r)
			if err != nil {
				return Shared{}, err
			}
			out = out.merge(values)
		}
		return out, nil
	})
}

// StaticResolver always yields the same values.
func StaticResolver(values map[string]any) ContextResolver {
	shared := NewShared(values)
	return ResolverFunc(func(*http.Request) (Shared, error) {
		return shared, nil
	})
}

// Tasks is a list of deferred functions run after the HTTP response is written.
type Tasks struct {
	mu    sync.Mutex
	funcs []func(context.Context)
}

// Add queues fn for execution after the response.
func (t *Tasks) Add(fn func(context.Context)) {
	if t == nil || fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.funcs = append(t.funcs, fn)
}

// Len returns the number of queued tasks.
func (t *Tasks) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.funcs)
}

func (t *Tasks) merge(other *Tasks) {
	if other == nil {
		return
	}
	other.mu.Lock()
	funcs := slices.Clone(other.funcs)
	other.mu.Unlock()

	t.mu.Lock()
	t.funcs = append(t.funcs, funcs...)
	t.mu.Unlock()
}

// Run executes the queued tasks in order. A panicking task is logged and
// does not stop the rest.
func (t *Tasks) Run(ctx context.Context) {
	if t == nil {
		return
	}
	t.mu.Lock()
	funcs := t.funcs
	t.funcs = nil
	t.mu.Unlock()

	for i, fn := range funcs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "Background task panicked", "index", i, "error", fmt.Sprint(r))
				}
			}()
			fn(ctx)
		}()
	}
}

type callKey struct{}

type callScope struct {
	shared Shared
	tasks  *Tasks
}

func withCall(ctx context.Context, shared Shared, tasks *Tasks) context.Context {
	return context.WithValue(ctx, callKey{}, &callScope{shared: shared, tasks: tasks})
}

func scopeFrom(ctx context.Context) *callScope {
	scope, _ := ctx.Value(callKey{}).(*callScope)
	return scope
}

// SharedFrom returns the shared values of the call handling ctx.
func SharedFrom(ctx context.Context) Shared {
	if scope := scopeFrom(ctx); scope != nil {
		return scope.shared
	}
	return Shared{}
}

// SharedValue returns the shared value under key if it has type T.
func SharedValue[T any](ctx context.Context, key string) (T, bool) {
	var zero T
	v, ok := SharedFrom(ctx).Value(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// TasksFrom returns the background task list of the request item handling
// ctx. It returns nil outside a handler; Add on a nil list is a no-op.
func TasksFrom(ctx context.Context) *Tasks {
	if scope := scopeFrom(ctx); scope != nil {
		return scope.tasks
	}
	return nil
}
