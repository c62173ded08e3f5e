package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	s := NewSelector(Options{
		PlatformNames:   []string{"LiveRamp", "index-exchange"},
		BehavioralTerms: []string{"streamers"},
	})

	tests := []struct {
		name   string
		query  string
		mode   Mode
		expand bool
	}{
		{"empty", "", ModeFTS, false},
		{"whitespace", "   \t", ModeFTS, false},
		{"boolean and", "sports AND luxury", ModeFTS, false},
		{"boolean not", "travel NOT business", ModeFTS, false},
		{"lowercase and is not boolean", "sports and luxury", ModeHybrid, true},
		{"quoted phrase", `"luxury auto" buyers`, ModeFTS, false},
		{"segment id", "luxury_auto_intenders", ModeFTS, false},
		{"numeric id", "segment 1489997", ModeFTS, false},
		{"short number is not an id", "top 100", ModeHybrid, true},
		{"year is not an id", "2024 auto intenders", ModeRAG, true},
		{"year alone", "2024", ModeRAG, true},
		{"alphanumeric id", "lr1489997", ModeFTS, false},
		{"platform name", "liveramp automotive", ModeFTS, false},
		{"hyphenated platform", "Index-Exchange", ModeFTS, false},
		{"behavioral", "people interested in luxury cars", ModeRAG, true},
		{"behavioral wins over demographic", "parents likely to buy minivans", ModeRAG, true},
		{"in-market", "in-market SUV", ModeRAG, true},
		{"configured behavioral", "cord cutting streamers", ModeRAG, true},
		{"boolean wins over behavioral", "buyers OR shoppers", ModeFTS, false},
		{"demographic", "high income households", ModeHybrid, false},
		{"demographic single word", "millennials", ModeHybrid, false},
		{"one word", "automotive", ModeRAG, true},
		{"two words", "luxury automotive", ModeHybrid, true},
		{"three words", "eco conscious travel", ModeHybrid, true},
		{"four words with exclusion", "sports fans without kids", ModeRAG, true},
		{"exclusion term", "luxury travel except cruises", ModeHybrid, false},
		{"only is exclusion", "only premium sedans", ModeHybrid, false},
		{"five words", "premium organic grocery delivery subscribers", ModeHybrid, false},
		{"punctuation trimmed", "automotive!", ModeRAG, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Classify(tt.query)
			assert.Equal(t, tt.mode, got.Mode, "mode for %q (%s)", tt.query, got.Reason)
			assert.Equal(t, tt.expand, got.Expand, "expand for %q (%s)", tt.query, got.Reason)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	s := NewSelector(Options{})
	for i := 0; i < 10; i++ {
		assert.Equal(t, s.Classify("luxury automotive"), s.Classify("luxury automotive"))
	}
}

func TestModePaths(t *testing.T) {
	assert.True(t, ModeFTS.UsesFTS())
	assert.False(t, ModeFTS.UsesVector())
	assert.True(t, ModeRAG.UsesVector())
	assert.False(t, ModeRAG.UsesFTS())
	assert.True(t, ModeHybrid.UsesFTS())
	assert.True(t, ModeHybrid.UsesVector())
}
