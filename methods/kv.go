package methods

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/slighter12/jsonrpc-entrypoint/jsonrpc"
	"github.com/slighter12/jsonrpc-entrypoint/store"
)

var errNoStore = errors.New("store is not available to this call")

type KVPutParams struct {
	Key   string          `json:"key" validate:"required"`
	Value json.RawMessage `json:"value" validate:"required"`
}

type KVKeyParams struct {
	Key string `json:"key" validate:"required"`
}

type KVListParams struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit" validate:"gte=0,lte=1000"`
}

type KVDeleteResult struct {
	Deleted bool `json:"deleted"`
}

func storeFor(ctx context.Context, key string) (*store.Store, error) {
	s, ok := store.From(ctx)
	if !ok {
		return nil, errNoStore
	}
	if key != "" && !store.ValidKey(key) {
		return nil, InvalidKey.New(map[string]any{"key": key})
	}
	return s, nil
}

func KVPut(ctx context.Context, p KVPutParams) (store.Entry, error) {
	s, err := storeFor(ctx, p.Key)
	if err != nil {
		return store.Entry{}, err
	}
	return s.Put(ctx, p.Key, p.Value)
}

func KVGet(ctx context.Context, p KVKeyParams) (store.Entry, error) {
	s, err := storeFor(ctx, p.Key)
	if err != nil {
		return store.Entry{}, err
	}
	entry, err := s.Get(ctx, p.Key)
	if errors.Is(err, store.ErrNotFound) {
		return store.Entry{}, KeyNotFound.New(map[string]any{"key": p.Key})
	}
	return entry, err
}

func KVDelete(ctx context.Context, p KVKeyParams) (KVDeleteResult, error) {
	s, err := storeFor(ctx, p.Key)
	if err != nil {
		return KVDeleteResult{}, err
	}
	deleted, err := s.Delete(ctx, p.Key)
	return KVDeleteResult{Deleted: deleted}, err
}

func KVList(ctx context.Context, p KVListParams) ([]store.Entry, error) {
	s, err := storeFor(ctx, "")
	if err != nil {
		return nil, err
	}
	return s.List(ctx, p.Prefix, p.Limit)
}

func registerKV(r jsonrpc.Registrar) error {
	return errors.Join(
		jsonrpc.Register(r, "kv.put", KVPut,
			jsonrpc.WithDoc("Stores a JSON value under key and returns the new version."),
			jsonrpc.WithErrors(InvalidKey),
		),
		jsonrpc.Register(r, "kv.get", KVGet,
			jsonrpc.WithDoc("Returns the value stored under key."),
			jsonrpc.WithErrors(InvalidKey, KeyNotFound),
		),
		jsonrpc.Register(r, "kv.delete", KVDelete,
			jsonrpc.WithDoc("Removes key."),
			jsonrpc.WithErrors(InvalidKey),
		),
		jsonrpc.Register(r, "kv.list", KVList, jsonrpc.WithDoc("Lists entries by key prefix.")),
	)
}
