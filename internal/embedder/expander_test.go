package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcontextprotocol/signals-agent/internal/config"
	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

func TestWithOriginal(t *testing.T) {
	tests := []struct {
		name  string
		query string
		terms []string
		max   int
		want  []string
	}{
		{"prepends query", "luxury cars", []string{"premium vehicles"}, 5, []string{"luxury cars", "premium vehicles"}},
		{"drops duplicates of query", "Luxury Cars", []string{"luxury cars", "premium"}, 5, []string{"Luxury Cars", "premium"}},
		{"drops blanks and repeats", "q", []string{" ", "a", "A", "b"}, 5, []string{"q", "a", "b"}},
		{"caps related terms", "q", []string{"a", "b", "c", "d"}, 2, []string{"q", "a", "b"}},
		{"default cap", "q", []string{"a", "b", "c", "d", "e", "f", "g"}, 0, []string{"q", "a", "b", "c", "d", "e"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, withOriginal(tt.query, tt.terms, tt.max))
		})
	}
}

func TestLocalExpander(t *testing.T) {
	e := NewLocalExpander(map[string][]string{"Outdoors": {"hiking", "camping"}}, 3)
	ctx := context.Background()

	terms, err := e.Expand(ctx, "luxury cars")
	require.NoError(t, err)
	assert.Equal(t, []string{"luxury cars", "premium", "high-end", "affluent"}, terms)

	terms, err = e.Expand(ctx, "outdoors")
	require.NoError(t, err)
	assert.Equal(t, []string{"outdoors", "hiking", "camping"}, terms)

	terms, err = e.Expand(ctx, "quantum")
	require.NoError(t, err)
	assert.Equal(t, []string{"quantum"}, terms)
}

func TestParseTerms(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{"comma separated", "luxury cars, premium vehicles , affluent buyers", []string{"luxury cars", "premium vehicles", "affluent buyers"}},
		{"numbered lines", "1. auto intenders\n2) car shoppers\n- \"vehicle buyers\"", []string{"auto intenders", "car shoppers", "vehicle buyers"}},
		{"keeps leading numbers in terms", "18-24 year olds, 4x4 owners", []string{"18-24 year olds", "4x4 owners"}},
		{"empty", " , \n", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseTerms(tt.reply))
		})
	}
}

func anthropicServer(t *testing.T, status int, text string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/messages")
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"type":  "error",
				"error": map[string]any{"type": "api_error", "message": "overloaded"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": text}},
			"model":       DefaultAnthropicModel,
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 5},
		})
	}))
}

func TestAnthropicExpander(t *testing.T) {
	srv := anthropicServer(t, http.StatusOK, "premium vehicles, high-end automotive, affluent car buyers")
	defer srv.Close()

	e, err := NewAnthropicExpander(AnthropicOptions{APIKey: "test-key", BaseURL: srv.URL, MaxTerms: 2})
	require.NoError(t, err)

	terms, err := e.Expand(context.Background(), "luxury cars")
	require.NoError(t, err)
	assert.Equal(t, []string{"luxury cars", "premium vehicles", "high-end automotive"}, terms)
}

func TestAnthropicExpanderFailures(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		srv := anthropicServer(t, http.StatusInternalServerError, "")
		defer srv.Close()

		e, err := NewAnthropicExpander(AnthropicOptions{APIKey: "test-key", BaseURL: srv.URL})
		require.NoError(t, err)
		_, err = e.Expand(context.Background(), "luxury cars")
		assert.ErrorIs(t, err, types.ErrExpansionFailed)
	})

	t.Run("empty reply", func(t *testing.T) {
		srv := anthropicServer(t, http.StatusOK, "  ")
		defer srv.Close()

		e, err := NewAnthropicExpander(AnthropicOptions{APIKey: "test-key", BaseURL: srv.URL})
		require.NoError(t, err)
		_, err = e.Expand(context.Background(), "luxury cars")
		assert.ErrorIs(t, err, types.ErrExpansionFailed)
	})

	t.Run("rate limited past deadline", func(t *testing.T) {
		srv := anthropicServer(t, http.StatusOK, "a, b")
		defer srv.Close()

		e, err := NewAnthropicExpander(AnthropicOptions{APIKey: "test-key", BaseURL: srv.URL, RequestsPerMinute: 1})
		require.NoError(t, err)
		_, err = e.Expand(context.Background(), "first")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = e.Expand(ctx, "second")
		assert.ErrorIs(t, err, types.ErrExpansionFailed)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := NewAnthropicExpander(AnthropicOptions{})
		assert.Error(t, err)
	})
}

func TestNewExpander(t *testing.T) {
	e, err := NewExpander(config.ExpansionConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = NewExpander(config.ExpansionConfig{Enabled: true, Provider: "local"})
	require.NoError(t, err)
	assert.IsType(t, &LocalExpander{}, e)

	e, err = NewExpander(config.ExpansionConfig{Enabled: true, Provider: "anthropic"})
	require.NoError(t, err)
	assert.IsType(t, &LocalExpander{}, e, "no key falls back to local")

	e, err = NewExpander(config.ExpansionConfig{Enabled: true, Provider: "anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicExpander{}, e)

	_, err = NewExpander(config.ExpansionConfig{Enabled: true, Provider: "gpt"})
	assert.Error(t, err)
}
