package ai

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseItems(t *testing.T) {
	tests := []struct {
		name   string
		output string
		count  int
		ok     bool
	}{
		{name: "plain json", output: `{"items":[{"title":"a"},{"title":"b"}]}`, count: 2, ok: true},
		{name: "fenced", output: "Here you go:\n```json\n{\"items\":[{\"title\":\"a\"}]}\n```\nThanks", count: 1, ok: true},
		{name: "fenced without language", output: "```\n{\"items\":[]}\n```", count: 0, ok: true},
		{name: "prose around braces", output: `Sure! {"items":[{"title":"a"}]} Hope it helps.`, count: 1, ok: true},
		{name: "no items key", output: `{"other":1}`, count: 0, ok: true},
		{name: "not json", output: "I cannot help with that", count: 0, ok: false},
		{name: "broken json", output: `{"items":[{"title":}`, count: 0, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, ok := ParseItems(tt.output)
			require.Equal(t, tt.ok, ok)
			require.NotNil(t, items)
			require.Len(t, items, tt.count)
		})
	}
}

func TestParseItemsKeepsFields(t *testing.T) {
	items, ok := ParseItems(`{"items":[{"title":"Login","estimatedComplexity":8,"acceptanceCriteria":["a","b"]}]}`)
	require.True(t, ok)
	require.Equal(t, "Login", items[0]["title"])
	require.Equal(t, float64(8), items[0]["estimatedComplexity"])
	require.Equal(t, []interface{}{"a", "b"}, items[0]["acceptanceCriteria"])
}
