package jsonrpc

import (
	"context"
	"encoding/json"

	"github.com/slighter12/jsonrpc-entrypoint/logger"
)

// outcome pairs a raw batch item with what it produced. Exactly one of resp
// and err is set.
type outcome struct {
	raw  json.RawMessage
	resp *Response
	err  *Error
}

// visible reports whether the outcome belongs in the reply: errors always do,
// successes only when the item carried an id member.
func (o outcome) visible() bool {
	return o.err != nil || hasID(o.raw)
}

func (o outcome) response() *Response {
	if o.err != nil {
		return o.err.Response()
	}
	return o.resp
}

// executor runs single request items against a registry.
type executor struct {
	registry *Registry
	binder   Binder
}

// execute validates, routes and invokes one raw item. When expected is set the
// item must name exactly that method.
func (x *executor) execute(ctx context.Context, shared Shared, tasks *Tasks, raw json.RawMessage, expected string) outcome {
	resp, err := x.run(ctx, shared, tasks, raw, expected)
	if err != nil {
		return outcome{raw: raw, err: err.bind(raw)}
	}
	return outcome{raw: raw, resp: resp}
}

func (x *executor) run(ctx context.Context, shared Shared, tasks *Tasks, raw json.RawMessage, expected string) (*Response, *Error) {
	req, rpcErr := parseEnvelope(raw, expected)
	if rpcErr != nil {
		return nil, rpcErr
	}

	method, ok := x.registry.Resolve(req.Method)
	if !ok {
		return nil, MethodNotFound.New(nil)
	}

	args := method.newArgs()
	// Binder locations are relative to params, so any failure, including
	// one located at params itself, is an InvalidParams error.
	if fieldErrors := x.binder.Bind(req.Params, args); len(fieldErrors) > 0 {
		return nil, InvalidParams.New(ErrorData{Errors: fieldErrors})
	}

	result, err := method.call(withCall(ctx, shared, tasks), args)
	if err != nil {
		if declared, ok := AsError(err); ok {
			return nil, declared
		}
		logRequestFailure(ctx, req, "Method failed", err)
		return nil, InternalError.New(nil)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		logRequestFailure(ctx, req, "Result encoding failed", err)
		return nil, InternalError.New(nil)
	}

	id := req.ID
	if id == nil {
		id = nullID
	}
	return NewResponse(id, encoded), nil
}

func logRequestFailure(ctx context.Context, req *Request, msg string, err error) {
	id := "null"
	if req.ID != nil {
		id = string(req.ID)
	}
	logger.ErrorContext(ctx, msg, "method", req.Method, "id", id, "error", err)
}
