package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit_DelimiterBoundaries(t *testing.T) {
	sp := Default()

	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty input",
			input:    "",
			expected: []string{""},
		},
		{
			name:     "no delimiter leaves single partial",
			input:    "こんにちは",
			expected: []string{"こんにちは"},
		},
		{
			name:     "strong terminators",
			input:    "A。B。C",
			expected: []string{"A", "B", "C"},
		},
		{
			name:     "trailing delimiter yields empty partial",
			input:    "A。B。",
			expected: []string{"A", "B", ""},
		},
		{
			name:     "clause separator splits too",
			input:    "今日は晴れ、明日は雨。",
			expected: []string{"今日は晴れ", "明日は雨", ""},
		},
		{
			name:     "mixed delimiters",
			input:    "はい、わかりました。ありがとう",
			expected: []string{"はい", "わかりました", "ありがとう"},
		},
		{
			name:     "consecutive delimiters produce empty segments",
			input:    "A。。B",
			expected: []string{"A", "", "B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sp.Split(tt.input))
		})
	}
}

func TestSplit_Deterministic(t *testing.T) {
	sp := Default()
	input := "こんにちは。元気ですか、私は元気です。まだ途中"

	first := sp.Split(input)
	second := sp.Split(input)

	assert.Equal(t, first, second, "same input must split identically")
}

func TestSplit_CustomDelimiters(t *testing.T) {
	sp := Splitter{Strong: ".!?", Clause: ","}

	assert.Equal(t, []string{"Hello", " world", ""}, sp.Split("Hello. world!"))
	assert.Equal(t, []string{"a", " b", " c"}, sp.Split("a, b, c"))
}
