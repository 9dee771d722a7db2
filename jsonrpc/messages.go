package jsonrpc

import (
	"bytes"
	"encoding/json"

	"github.com/buger/jsonparser"
)

const Version = "2.0"

var nullID = json.RawMessage("null")

// Request represents a validated JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// IsNotification reports whether the request carried no id member.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response represents a JSON-RPC response. Exactly one of Result and Error is
// written; a nil Result is still written as "result": null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject represents the error member of a response.
type ErrorObject struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

type resultEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	ID      json.RawMessage `json:"id"`
}

type errorEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Error   *ErrorObject    `json:"error"`
	ID      json.RawMessage `json:"id"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	id := r.ID
	if len(id) == 0 {
		id = nullID
	}
	if r.Error != nil {
		return json.Marshal(errorEnvelope{JSONRPC: Version, Error: r.Error, ID: id})
	}
	result := r.Result
	if len(result) == 0 {
		result = nullID
	}
	return json.Marshal(resultEnvelope{JSONRPC: Version, Result: result, ID: id})
}

// NewResponse creates a success response for the given raw id.
func NewResponse(id json.RawMessage, result json.RawMessage) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// isObject reports whether raw is (syntactically) a JSON object.
func isObject(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// isArray reports whether raw is (syntactically) a JSON array.
func isArray(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// hasID reports whether raw is an object with an "id" member, whatever its value.
func hasID(raw json.RawMessage) bool {
	if !isObject(raw) {
		return false
	}
	_, dataType, _, err := jsonparser.Get(raw, "id")
	return err == nil && dataType != jsonparser.NotExist
}

// requestID recovers the raw id member of a request item, or null.
func requestID(raw json.RawMessage) json.RawMessage {
	if !isObject(raw) {
		return nullID
	}
	value, dataType, _, err := jsonparser.Get(raw, "id")
	if err != nil || dataType == jsonparser.NotExist {
		return nullID
	}
	if dataType == jsonparser.String {
		// jsonparser strips the quotes but keeps escapes intact.
		quoted := make([]byte, 0, len(value)+2)
		quoted = append(quoted, '"')
		quoted = append(quoted, value...)
		quoted = append(quoted, '"')
		return quoted
	}
	if dataType == jsonparser.Number {
		if id, ok := normalizeID(value); ok {
			return id
		}
	}
	return append(json.RawMessage(nil), value...)
}
