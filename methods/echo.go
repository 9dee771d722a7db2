package methods

import (
	"context"
	"errors"

	"github.com/slighter12/jsonrpc-entrypoint/auth"
	"github.com/slighter12/jsonrpc-entrypoint/jsonrpc"
	"github.com/slighter12/jsonrpc-entrypoint/logger"
)

type EchoParams struct {
	Data string `json:"data" validate:"required"`
}

func Echo(ctx context.Context, p EchoParams) (string, error) {
	if p.Data == "error" {
		return "", MyError.New(map[string]any{"details": "error"})
	}
	jsonrpc.TasksFrom(ctx).Add(func(ctx context.Context) {
		logger.DebugContext(ctx, "Echo delivered", "bytes", len(p.Data))
	})
	return p.Data, nil
}

func registerEcho(r jsonrpc.Registrar) error {
	return jsonrpc.Register(r, "echo", Echo,
		jsonrpc.WithDoc("Returns data unchanged. The value \"error\" fails with MyError."),
		jsonrpc.WithErrors(MyError),
	)
}

type MathDivideParams struct {
	A *float64 `json:"a" validate:"required"`
	B *float64 `json:"b" validate:"required"`
}

func MathDivide(_ context.Context, p MathDivideParams) (float64, error) {
	if *p.B == 0 {
		return 0, DivisionByZero.Errorf("cannot divide %v by zero", *p.A)
	}
	return *p.A / *p.B, nil
}

type MathSumParams struct {
	Numbers []float64 `json:"numbers" validate:"required,min=1,max=1000"`
}

func MathSum(_ context.Context, p MathSumParams) (float64, error) {
	var total float64
	for _, n := range p.Numbers {
		total += n
	}
	return total, nil
}

func registerMath(r jsonrpc.Registrar) error {
	return errors.Join(
		jsonrpc.Register(r, "math.divide", MathDivide,
			jsonrpc.WithDoc("Divides a by b."),
			jsonrpc.WithErrors(DivisionByZero),
		),
		jsonrpc.Register(r, "math.sum", MathSum, jsonrpc.WithDoc("Adds numbers.")),
	)
}

type Identity struct {
	Authenticated bool     `json:"authenticated"`
	Subject       string   `json:"subject,omitempty"`
	Name          string   `json:"name,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

func Whoami(ctx context.Context, _ struct{}) (Identity, error) {
	claims, ok := auth.ClaimsFrom(ctx)
	if !ok {
		return Identity{}, nil
	}
	return Identity{
		Authenticated: true,
		Subject:       claims.Subject,
		Name:          claims.Name,
		Roles:         claims.Roles,
	}, nil
}

func registerWhoami(r jsonrpc.Registrar) error {
	return jsonrpc.Register(r, "whoami", Whoami, jsonrpc.WithDoc("Reports the caller's verified token claims."))
}
