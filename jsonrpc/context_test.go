package jsonrpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedIsACopy(t *testing.T) {
	values := map[string]any{"a": 1}
	shared := NewShared(values)
	values["a"] = 2
	values["b"] = 3

	v, ok := shared.Value("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, []string{"a"}, shared.Keys())
	assert.Equal(t, 1, shared.Len())
}

func TestChainResolvers(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	resolver := ChainResolvers(
		StaticResolver(map[string]any{"a": 1, "b": 1}),
		nil,
		StaticResolver(map[string]any{"b": 2}),
	)
	shared, err := resolver.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, shared.Keys())
	b, _ := shared.Value("b")
	assert.Equal(t, 2, b, "later resolvers win")

	boom := errors.New("boom")
	called := false
	failing := ChainResolvers(
		ResolverFunc(func(*http.Request) (Shared, error) { return Shared{}, boom }),
		ResolverFunc(func(*http.Request) (Shared, error) {
			called = true
			return Shared{}, nil
		}),
	)
	_, err = failing.Resolve(req)
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestSharedValue(t *testing.T) {
	ctx := withCall(context.Background(), NewShared(map[string]any{"user": "alice", "n": 3}), nil)

	user, ok := SharedValue[string](ctx, "user")
	assert.True(t, ok)
	assert.Equal(t, "alice", user)

	_, ok = SharedValue[string](ctx, "n")
	assert.False(t, ok, "wrong type")

	_, ok = SharedValue[string](ctx, "missing")
	assert.False(t, ok)

	_, ok = SharedValue[string](context.Background(), "user")
	assert.False(t, ok, "outside a call")
}

func TestTasks(t *testing.T) {
	assert.Nil(t, TasksFrom(context.Background()))
	TasksFrom(context.Background()).Add(func(context.Context) {})

	tasks := &Tasks{}
	ctx := withCall(context.Background(), Shared{}, tasks)
	require.Same(t, tasks, TasksFrom(ctx))

	var order []int
	tasks.Add(func(context.Context) { order = append(order, 1) })
	tasks.Add(func(context.Context) { panic("task failure") })
	tasks.Add(nil)
	tasks.Add(func(context.Context) { order = append(order, 3) })
	assert.Equal(t, 3, tasks.Len())

	tasks.Run(context.Background())
	assert.Equal(t, []int{1, 3}, order, "a panicking task does not stop the rest")
	assert.Equal(t, 0, tasks.Len())

	var nilTasks *Tasks
	nilTasks.Run(context.Background())
	assert.Equal(t, 0, nilTasks.Len())
}

func TestTasksMerge(t *testing.T) {
	var order []string
	first, second := &Tasks{}, &Tasks{}
	first.Add(func(context.Context) { order = append(order, "a") })
	second.Add(func(context.Context) { order = append(order, "b") })
	second.Add(func(context.Context) { order = append(order, "c") })

	merged := &Tasks{}
	merged.merge(first)
	merged.merge(nil)
	merged.merge(second)
	assert.Equal(t, 3, merged.Len())

	// The source list is copied, not aliased.
	second.Add(func(context.Context) { order = append(order, "late") })
	assert.Equal(t, 3, merged.Len())

	merged.Run(context.Background())
	assert.Equal(t, []string{"a", "b", "c"}, order)
}
