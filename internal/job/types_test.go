package job

import (
	"errors"
	"testing"

	"indexctl/internal/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  Type
	}{
		{"backup", TypeBackup},
		{"delete", TypeDelete},
		{"aliases", TypeAliases},
		{" Delete ", TypeDelete},
		{"restore", TypeUnknown},
		{"", TypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseType(tt.input), "ParseType(%q)", tt.input)
	}
	assert.Equal(t, "unknown", Type(42).String())
}

func TestDecode(t *testing.T) {
	t.Parallel()
	records := Decode([]map[string]any{
		{"job": "backup", "index": "a"},
		{"index": "b"},
	})
	require.Len(t, records, 2)
	assert.Equal(t, TypeBackup, records[0].Type)
	assert.Equal(t, "backup-0", records[0].ID())
	assert.Equal(t, TypeUnknown, records[1].Type)
	assert.Equal(t, "unknown-1", records[1].ID())
}

func TestRecord_Indices(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		value   any
		want    []string
		wantErr bool
	}{
		{"string", "logs", []string{"logs"}, false},
		{"list", []any{"a", "b"}, []string{"a", "b"}, false},
		{"string list", []string{"a"}, []string{"a"}, false},
		{"missing", nil, nil, true},
		{"blank", "  ", nil, true},
		{"bad item", []any{"a", 1}, nil, true},
		{"bad type", 12, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := NewRecord(0, map[string]any{"job": "delete", "index": tt.value})
			got, err := rec.Indices()
			if tt.wantErr {
				assert.True(t, errors.Is(err, apperrors.ErrValidation), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecord_Wait(t *testing.T) {
	t.Parallel()
	tests := []struct {
		value any
		want  bool
	}{
		{nil, true},
		{true, true},
		{false, false},
		{"false", false},
		{"true", true},
		{"maybe", true},
		{"no", false},
		{"No", false},
		{"off", false},
		{"n", false},
		{"yes", true},
		{"on", true},
		{" 0 ", false},
	}
	for _, tt := range tests {
		rec := NewRecord(0, map[string]any{"wait": tt.value})
		if tt.value == nil {
			rec = NewRecord(0, map[string]any{})
		}
		assert.Equal(t, tt.want, rec.Wait(), "wait=%v", tt.value)
	}
}

func TestRecord_SaveDays(t *testing.T) {
	t.Parallel()
	days, err := NewRecord(0, map[string]any{"save": "7"}).SaveDays()
	require.NoError(t, err)
	assert.Equal(t, 7, days)

	days, err = NewRecord(0, map[string]any{"save": 30}).SaveDays()
	require.NoError(t, err)
	assert.Equal(t, 30, days)

	_, err = NewRecord(0, map[string]any{}).SaveDays()
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = NewRecord(0, map[string]any{"save": -1}).SaveDays()
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRecord_Body(t *testing.T) {
	t.Parallel()
	body, err := NewRecord(0, map[string]any{}).Body()
	require.NoError(t, err)
	assert.Nil(t, body)

	body, err = NewRecord(0, map[string]any{"body": `{"indices": "{index}"}`}).Body()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"indices": "{index}"}, body)

	tree := map[string]any{"indices": "x"}
	body, err = NewRecord(0, map[string]any{"body": tree}).Body()
	require.NoError(t, err)
	assert.Equal(t, tree, body)

	_, err = NewRecord(0, map[string]any{"body": "{unclosed"}).Body()
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRecord_Actions(t *testing.T) {
	t.Parallel()
	_, err := NewRecord(0, map[string]any{}).Actions()
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = NewRecord(0, map[string]any{"actions": []any{"add"}}).Actions()
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	actions, err := NewRecord(0, map[string]any{"actions": []any{map[string]any{"add": map[string]any{}}}}).Actions()
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestDescribeActions(t *testing.T) {
	t.Parallel()
	got := describeActions([]any{
		map[string]any{"add": map[string]any{"indices": []any{"a", "b"}, "alias": "current"}},
		map[string]any{"remove_index": map[string]any{"index": "c"}},
	})
	require.Len(t, got, 2)
	assert.Equal(t, aliasAction{op: "add", index: "[a b]", alias: "current"}, got[0])
	assert.Equal(t, aliasAction{op: "remove_index", index: "c"}, got[1])
}
