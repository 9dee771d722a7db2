// Package methods is the demo method set served by the default entrypoint.
package methods

import (
	"github.com/slighter12/jsonrpc-entrypoint/jsonrpc"
)

// Application error codes.
const (
	CodeMyError        jsonrpc.ErrorCode = 5000
	CodeDivisionByZero jsonrpc.ErrorCode = 5001
	CodeKeyNotFound    jsonrpc.ErrorCode = 5002
	CodeInvalidKey     jsonrpc.ErrorCode = 5003
)

var (
	MyError        = jsonrpc.NewKind(CodeMyError, "My error", "Returned by echo when asked to fail")
	DivisionByZero = jsonrpc.NewKind(CodeDivisionByZero, "Division by zero", "")
	KeyNotFound    = jsonrpc.NewKind(CodeKeyNotFound, "Key not found", "The key is not present in the store")
	InvalidKey     = jsonrpc.NewKind(CodeInvalidKey, "Invalid key", "Keys must be non-blank and free of control characters")
)

// Register adds every demo method to r.
func Register(r jsonrpc.Registrar) error {
	registrations := []func(jsonrpc.Registrar) error{
		registerEcho,
		registerMath,
		registerKV,
		registerWhoami,
	}
	for _, register := range registrations {
		if err := register(r); err != nil {
			return err
		}
	}
	return nil
}
