package tools

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgesight/forgesight/pkg/llm"
)

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry(time.Second)
	r.MustRegister(Tool{
		Name:        "echo",
		Group:       GroupRelational,
		Description: "echo",
		InputSchema: objectSchema(map[string]any{"text": stringProp("t")}, []string{"text"}),
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Text string `json:"text" validate:"required"`
			}
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return map[string]any{"echo": in.Text}, nil
		},
	})

	result := r.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`),
	})
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"echo":"hi"}`, result.Content)
	assert.Equal(t, "c1", result.CallID)
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry(time.Second)
	result := r.Execute(context.Background(), llm.ToolCall{ID: "c1", Name: "nope"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "unknown tool")
}

func TestRegistryValidationErrorIsToolResult(t *testing.T) {
	r := NewRegistry(time.Second)
	r.MustRegister(Tool{
		Name: "strict", Group: GroupRelational, Description: "strict",
		InputSchema: objectSchema(nil, nil),
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Limit int `json:"limit" validate:"required,min=1"`
			}
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return in, nil
		},
	})

	result := r.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "strict", Arguments: json.RawMessage(`{"limit":0}`),
	})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "validation")
}

func TestRegistryHandlerErrorFedBack(t *testing.T) {
	r := NewRegistry(time.Second)
	r.MustRegister(Tool{
		Name: "boom", Group: GroupRelational, Description: "boom",
		InputSchema: objectSchema(nil, nil),
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("store unavailable")
		},
	})
	result := r.Execute(context.Background(), llm.ToolCall{ID: "c1", Name: "boom"})
	assert.True(t, result.IsError)
	assert.Equal(t, "store unavailable", result.Content)
}

func TestRegistryDuplicateName(t *testing.T) {
	r := NewRegistry(time.Second)
	tool := Tool{Name: "x", Handler: func(context.Context, json.RawMessage) (any, error) { return nil, nil }}
	require.NoError(t, r.Register(tool))
	assert.Error(t, r.Register(tool))
}

func TestDefinitionsFilterByGroup(t *testing.T) {
	r := NewRegistry(time.Second)
	noop := func(context.Context, json.RawMessage) (any, error) { return nil, nil }
	r.MustRegister(Tool{Name: "b_rel", Group: GroupRelational, Handler: noop})
	r.MustRegister(Tool{Name: "a_rel", Group: GroupRelational, Handler: noop})
	r.MustRegister(Tool{Name: "ts", Group: GroupTimeseries, Handler: noop})

	defs := r.Definitions(GroupRelational)
	require.Len(t, defs, 2)
	assert.Equal(t, "a_rel", defs[0].Name, "definitions sorted by name")

	all := r.Definitions()
	assert.Len(t, all, 3)
}

func TestMarshalResultScalars(t *testing.T) {
	id := uuid.MustParse("7a3d9b2c-0f4e-4b6a-8c1d-5e2f7a9b3c4d")
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	out, err := MarshalResult(map[string]any{
		"id":   id,
		"when": ts,
		"rate": math.NaN(),
		"inf":  math.Inf(1),
		"ok":   42,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "7a3d9b2c-0f4e-4b6a-8c1d-5e2f7a9b3c4d",
		"when": "2026-03-01T12:30:00Z",
		"rate": null,
		"inf": null,
		"ok": 42
	}`, out)
}

func TestMarshalResultStruct(t *testing.T) {
	type metrics struct {
		ProjectID string   `json:"project_id"`
		Rate      *float64 `json:"rate"`
		Lead      float64  `json:"lead"`
		Skip      string   `json:"-"`
		Empty     string   `json:"empty,omitempty"`
	}
	out, err := MarshalResult(metrics{ProjectID: "atlas", Lead: math.NaN(), Skip: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"project_id":"atlas","rate":null,"lead":null}`, out)
}

func TestMarshalResultNestedSlices(t *testing.T) {
	out, err := MarshalResult([]any{math.Inf(-1), "ok", []float64{1, math.NaN()}})
	require.NoError(t, err)
	assert.JSONEq(t, `[null,"ok",[1,null]]`, out)
}
