package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinKinds(t *testing.T) {
	tests := []struct {
		kind    *Kind
		code    ErrorCode
		message string
	}{
		{ParseError, -32700, "Parse error"},
		{InvalidRequest, -32600, "Invalid Request"},
		{MethodNotFound, -32601, "Method not found"},
		{InvalidParams, -32602, "Invalid params"},
		{InternalError, -32603, "Internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.kind.Code())
			assert.Equal(t, tt.message, tt.kind.Message())
		})
	}
}

func TestKindDescription(t *testing.T) {
	assert.Equal(t, "[-32700] Parse error\n\nInvalid JSON was received by the server", ParseError.Description())

	bare := NewKind(5000, "My error", "")
	assert.Equal(t, "[5000] My error", bare.Description())
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "[-32601] Method not found", MethodNotFound.New(nil).Error())

	err := NewKind(5000, "My error", "").Errorf("bad %s", "input")
	assert.Equal(t, "[5000] My error: map[details:bad input]", err.Error())
}

func TestErrorIsAndAs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", InvalidParams.New(nil))

	assert.True(t, errors.Is(err, InvalidParams))
	assert.True(t, errors.Is(err, InvalidParams.New("other data")))
	assert.False(t, errors.Is(err, InvalidRequest))

	rpcErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code())

	assert.True(t, IsInvalidParams(err))
	assert.False(t, IsInternalError(err))
	assert.False(t, IsError(errors.New("plain"), CodeInternalError))

	_, ok = AsError(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrorBindCopies(t *testing.T) {
	shared := MethodNotFound.New(nil)

	bound := shared.bind(json.RawMessage(`{"id":3}`))
	assert.Nil(t, shared.request)
	assert.Equal(t, json.RawMessage("3"), bound.Response().ID)
}

func TestErrorResponseID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"integer", `{"id": 42}`, `42`},
		{"string", `{"id": "abc"}`, `"abc"`},
		{"escaped string", `{"id": "a\"b"}`, `"a\"b"`},
		{"null", `{"id": null}`, `null`},
		{"missing", `{"method": "x"}`, `null`},
		{"not an object", `[1, 2]`, `null`},
		{"scalar", `7`, `null`},
		{"unbound", ``, `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InvalidRequest.New(nil).bind(json.RawMessage(tt.raw))
			assert.JSONEq(t, tt.want, string(err.Response().ID))
		})
	}
}

func TestErrorObjectOmitsEmptyData(t *testing.T) {
	for _, empty := range []any{nil, map[string]any{}, []string{}, ""} {
		data, err := json.Marshal(InternalError.New(empty).Response())
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"},"id":null}`, string(data))
	}

	data, err := json.Marshal(InvalidParams.New(ErrorData{Errors: []FieldError{{Loc: Loc{"a"}, Msg: "m", Type: "t"}}}).Response())
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid params","data":{"errors":[{"loc":["a"],"msg":"m","type":"t"}]}},"id":null}`, string(data))
}

func TestNilLocMarshalsAsEmptyArray(t *testing.T) {
	data, err := json.Marshal(FieldError{Msg: "m", Type: "t"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"loc":[],"msg":"m","type":"t"}`, string(data))
}

func TestTransportError(t *testing.T) {
	cause := errors.New("token expired")
	err := &TransportError{Status: 401, Message: "unauthorized", Err: cause}

	assert.Equal(t, "unauthorized: token expired", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "forbidden", (&TransportError{Status: 403, Message: "forbidden"}).Error())
}
