package jsonrpc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bindItem struct {
	Name string `json:"name" validate:"required"`
}

type bindParams struct {
	Count int        `json:"count" validate:"gte=1,lte=10"`
	Mode  string     `json:"mode" validate:"omitempty,oneof=fast slow"`
	Items []bindItem `json:"items" validate:"dive"`
	Label string     `json:"label,omitempty"`
}

func TestStructBinder(t *testing.T) {
	binder := NewStructBinder()

	t.Run("valid", func(t *testing.T) {
		var p bindParams
		errs := binder.Bind(json.RawMessage(`{"count":3,"mode":"fast","items":[{"name":"a"}],"unknown":true}`), &p)
		require.Empty(t, errs)
		assert.Equal(t, 3, p.Count)
		assert.Equal(t, "a", p.Items[0].Name)
	})

	tests := []struct {
		name string
		raw  string
		want []FieldError
	}{
		{
			name: "type mismatch",
			raw:  `{"count":"three"}`,
			want: []FieldError{{Loc: Loc{"count"}, Msg: "value is not a valid integer", Type: "type_error.integer"}},
		},
		{
			name: "string expected",
			raw:  `{"count":1,"label":5}`,
			want: []FieldError{{Loc: Loc{"label"}, Msg: "str type expected", Type: "type_error.str"}},
		},
		{
			name: "list expected",
			raw:  `{"count":1,"items":{}}`,
			want: []FieldError{{Loc: Loc{"items"}, Msg: "value is not a valid list", Type: "type_error.list"}},
		},
		{
			name: "lower bound",
			raw:  `{"count":0}`,
			want: []FieldError{{
				Loc:  Loc{"count"},
				Msg:  "ensure this value is greater than or equal to 1",
				Type: "value_error.number.not_ge",
				Ctx:  map[string]any{"limit_value": "1"},
			}},
		},
		{
			name: "upper bound",
			raw:  `{"count":11}`,
			want: []FieldError{{
				Loc:  Loc{"count"},
				Msg:  "ensure this value is less than or equal to 10",
				Type: "value_error.number.not_le",
				Ctx:  map[string]any{"limit_value": "10"},
			}},
		},
		{
			name: "enum",
			raw:  `{"count":1,"mode":"medium"}`,
			want: []FieldError{{
				Loc:  Loc{"mode"},
				Msg:  "value is not a valid enumeration member; permitted: fast slow",
				Type: "type_error.enum",
				Ctx:  map[string]any{"enum_values": []string{"fast", "slow"}},
			}},
		},
		{
			name: "nested required",
			raw:  `{"count":1,"items":[{"name":"a"},{}]}`,
			want: []FieldError{{Loc: Loc{"items", 1, "name"}, Msg: "field required", Type: "value_error.missing"}},
		},
		{
			name: "nested type mismatch keeps the index",
			raw:  `{"count":1,"items":[{"name":"a"},{"name":5}]}`,
			want: []FieldError{{Loc: Loc{"items", 1, "name"}, Msg: "str type expected", Type: "type_error.str"}},
		},
		{
			name: "every decode failure is reported",
			raw:  `{"count":"x","items":[{"name":1},{"name":"b"},{"name":true}],"label":5}`,
			want: []FieldError{
				{Loc: Loc{"count"}, Msg: "value is not a valid integer", Type: "type_error.integer"},
				{Loc: Loc{"items", 0, "name"}, Msg: "str type expected", Type: "type_error.str"},
				{Loc: Loc{"items", 2, "name"}, Msg: "str type expected", Type: "type_error.str"},
				{Loc: Loc{"label"}, Msg: "str type expected", Type: "type_error.str"},
			},
		},
		{
			name: "params not an object",
			raw:  `[1,2]`,
			want: []FieldError{{Loc: Loc{}, Msg: "value is not a valid dict", Type: "type_error.dict"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p bindParams
			assert.Equal(t, tt.want, binder.Bind(json.RawMessage(tt.raw), &p))
		})
	}
}

type scheduleParams struct {
	At    time.Time            `json:"at"`
	Every map[string]time.Time `json:"every"`
	After *time.Time           `json:"after"`
}

func TestStructBinderDatetime(t *testing.T) {
	binder := NewStructBinder()

	t.Run("valid", func(t *testing.T) {
		var p scheduleParams
		errs := binder.Bind(json.RawMessage(`{"at":"2024-05-01T10:00:00Z","after":null}`), &p)
		require.Empty(t, errs)
		assert.Equal(t, 2024, p.At.Year())
		assert.Nil(t, p.After)
	})

	tests := []struct {
		name string
		raw  string
		want []FieldError
	}{
		{
			name: "malformed datetime",
			raw:  `{"at":"not-a-time"}`,
			want: []FieldError{{Loc: Loc{"at"}, Msg: "invalid datetime format", Type: "value_error.datetime"}},
		},
		{
			name: "datetime behind a pointer",
			raw:  `{"after":"yesterday"}`,
			want: []FieldError{{Loc: Loc{"after"}, Msg: "invalid datetime format", Type: "value_error.datetime"}},
		},
		{
			name: "map values in key order",
			raw:  `{"every":{"b":"x","a":"y","c":"2024-05-01T10:00:00Z"}}`,
			want: []FieldError{
				{Loc: Loc{"every", "a"}, Msg: "invalid datetime format", Type: "value_error.datetime"},
				{Loc: Loc{"every", "b"}, Msg: "invalid datetime format", Type: "value_error.datetime"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p scheduleParams
			assert.Equal(t, tt.want, binder.Bind(json.RawMessage(tt.raw), &p))
		})
	}
}

func TestNamespaceLoc(t *testing.T) {
	tests := []struct {
		namespace string
		want      Loc
	}{
		{"params.name", Loc{"name"}},
		{"params.items[2].name", Loc{"items", 2, "name"}},
		{"params.matrix[0][1]", Loc{"matrix", 0, 1}},
		{"params.tags[key]", Loc{"tags", "key"}},
		{"params", Loc{}},
	}

	for _, tt := range tests {
		t.Run(tt.namespace, func(t *testing.T) {
			assert.Equal(t, tt.want, namespaceLoc(tt.namespace))
		})
	}
}
