package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCalls(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Call
	}{
		{name: "none", raw: "NONE", want: nil},
		{name: "none lowercase with prefix", raw: "Tool decision: none", want: nil},
		{name: "empty", raw: "   ", want: nil},
		{
			name: "backticks and prefix",
			raw:  "tool: `end_conversation()`",
			want: []Call{{Name: "end_conversation", Args: map[string]interface{}{}}},
		},
		{
			name: "keyword argument keeps commas inside quotes",
			raw:  "query_long_term_memory(query_keywords='pizza, olives'), get_current_time()",
			want: []Call{
				{Name: "query_long_term_memory", Args: map[string]interface{}{"query_keywords": "pizza, olives"}},
				{Name: "get_current_time", Args: map[string]interface{}{}},
			},
		},
		{
			name: "double quotes",
			raw:  `query_long_term_memory(query_keywords="holidays")`,
			want: []Call{{Name: "query_long_term_memory", Args: map[string]interface{}{"query_keywords": "holidays"}}},
		},
		{
			name: "bare positional value",
			raw:  "query_long_term_memory(pizza)",
			want: []Call{{Name: "query_long_term_memory", Args: map[string]interface{}{PositionalArg: "pizza"}}},
		},
		{
			name: "only the first line counts",
			raw:  "get_current_time()\nI chose this because the user asked.",
			want: []Call{{Name: "get_current_time", Args: map[string]interface{}{}}},
		},
		{
			name: "stops at malformed call",
			raw:  "register_face(), this is not a call",
			want: []Call{{Name: "register_face", Args: map[string]interface{}{}}},
		},
		{name: "prose only", raw: "I think no tool is needed", want: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseCalls(tc.raw)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSplitKeywords(t *testing.T) {
	assert.Equal(t, []string{"a", "b c"}, SplitKeywords(" a ,, b c ,"))
	assert.Empty(t, SplitKeywords(""))
}
