package jsonrpc

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/slighter12/jsonrpc-entrypoint/logger"
)

// Reply is the outcome of one HTTP call. Payload is a *Response for a single
// object body, a []*Response for an array body, or nil when nothing is to be
// returned. Tasks must be run once the payload has been written.
type Reply struct {
	Payload any
	Tasks   *Tasks
}

// NoContent reports whether the HTTP response must have an empty body.
func (r *Reply) NoContent() bool {
	return r.Payload == nil
}

func errorReply(err *Error) *Reply {
	return &Reply{Payload: err.Response(), Tasks: &Tasks{}}
}

// Handle serves one HTTP call on the entrypoint route. The error return is
// reserved for transport failures, such as those of the context resolver.
func (e *Entrypoint) Handle(r *http.Request, body []byte) (*Reply, error) {
	shared, err := e.resolve(r)
	if err != nil {
		return nil, err
	}
	return e.Dispatch(r.Context(), shared, body)
}

// HandleMethod serves one HTTP call on the dedicated route of a method. Only
// a single request object naming that method is accepted.
func (e *Entrypoint) HandleMethod(r *http.Request, method string, body []byte) (*Reply, error) {
	shared, err := e.resolve(r)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return errorReply(ParseError.New(nil)), nil
	}

	tasks := &Tasks{}
	out := e.exec.execute(r.Context(), shared, tasks, body, method)
	if !out.visible() {
		return &Reply{Tasks: tasks}, nil
	}
	return &Reply{Payload: out.response(), Tasks: tasks}, nil
}

func (e *Entrypoint) resolve(r *http.Request) (Shared, error) {
	if e.resolver == nil {
		return Shared{}, nil
	}
	return e.resolver.Resolve(r)
}

// Dispatch runs a raw body against the entrypoint with already resolved shared
// values. It fails only when ctx is done before every item completed.
func (e *Entrypoint) Dispatch(ctx context.Context, shared Shared, body []byte) (*Reply, error) {
	if !json.Valid(body) {
		return errorReply(ParseError.New(nil)), nil
	}

	batch := isArray(body)
	var items []json.RawMessage
	if batch {
		if err := json.Unmarshal(body, &items); err != nil {
			return errorReply(ParseError.New(nil)), nil
		}
		if len(items) == 0 {
			return errorReply(InvalidRequest.New(ErrorData{Errors: []FieldError{errEmpty}})), nil
		}
	} else {
		items = []json.RawMessage{body}
	}

	outcomes, tasks, err := e.collect(ctx, shared, items)
	if err != nil {
		return nil, err
	}

	responses := make([]*Response, 0, len(outcomes))
	for _, out := range outcomes {
		if out.visible() {
			responses = append(responses, out.response())
		}
	}

	reply := &Reply{Tasks: tasks}
	switch {
	case len(responses) == 0:
	case batch:
		reply.Payload = responses
	default:
		reply.Payload = responses[0]
	}
	return reply, nil
}

// collect executes items and returns their outcomes in input order together
// with the merged background tasks. A single item runs inline; larger batches
// are spawned on the scheduler and joined.
func (e *Entrypoint) collect(ctx context.Context, shared Shared, items []json.RawMessage) ([]outcome, *Tasks, error) {
	merged := &Tasks{}
	if len(items) == 1 {
		out := e.exec.execute(ctx, shared, merged, items[0], "")
		return []outcome{out}, merged, nil
	}

	scheduler, err := e.getScheduler()
	if err != nil {
		logger.Warn("Scheduler unavailable, running batch inline", "entrypoint", e.path, "error", err)
		scheduler = InlineScheduler{}
	}

	type future struct {
		done  chan struct{}
		out   outcome
		tasks *Tasks
	}

	futures := make([]*future, len(items))
	for i, raw := range items {
		f := &future{done: make(chan struct{}), tasks: &Tasks{}}
		futures[i] = f
		job := func() {
			defer close(f.done)
			f.out = e.exec.execute(ctx, shared, f.tasks, raw, "")
		}
		if err := scheduler.Submit(job); err != nil {
			logger.Warn("Job submission failed, running inline", "entrypoint", e.path, "index", i, "error", err)
			job()
		}
	}

	outcomes := make([]outcome, len(items))
	for i, f := range futures {
		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		outcomes[i] = f.out
		merged.merge(f.tasks)
	}
	return outcomes, merged, nil
}
