package embedder

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// DefaultAnthropicModel is used when expansion.model is empty
const DefaultAnthropicModel = "claude-haiku-4-5-20251001"

const expansionPrompt = `Given the search query %q for finding audience segments in a data marketplace, generate %d related search terms that would help find relevant audience segments.

Focus on:
- Industry terms and categories
- Demographics and behaviors
- Purchase intent signals
- Interest categories

Return ONLY a comma-separated list of terms, no explanations or numbering.
Example: luxury cars, premium vehicles, high-end automotive, luxury brand enthusiasts, affluent car buyers`

// AnthropicOptions configures an AnthropicExpander
type AnthropicOptions struct {
	APIKey            string
	Model             string
	MaxTerms          int
	RequestsPerMinute int
	BaseURL           string // Optional API endpoint override
	MaxRetries        int    // SDK retries; negative keeps the SDK default
}

// AnthropicExpander asks a Claude model for related search terms
type AnthropicExpander struct {
	client   sdk.Client
	model    string
	maxTerms int
	limiter  *rate.Limiter
}

// NewAnthropicExpander creates an LLM-backed expander. Calls are rate limited
// to RequestsPerMinute.
func NewAnthropicExpander(opts AnthropicOptions) (*AnthropicExpander, error) {
	if opts.APIKey == "" {
		return nil, eris.New("embedder: anthropic api key not set")
	}
	if opts.Model == "" {
		opts.Model = DefaultAnthropicModel
	}
	if opts.MaxTerms <= 0 {
		opts.MaxTerms = DefaultMaxTerms
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 10
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.MaxRetries >= 0 {
		clientOpts = append(clientOpts, option.WithMaxRetries(opts.MaxRetries))
	}

	perRequest := time.Minute / time.Duration(opts.RequestsPerMinute)
	return &AnthropicExpander{
		client:   sdk.NewClient(clientOpts...),
		model:    opts.Model,
		maxTerms: opts.MaxTerms,
		limiter:  rate.NewLimiter(rate.Every(perRequest), opts.RequestsPerMinute),
	}, nil
}

// Expand returns the query followed by up to maxTerms related terms. Any
// failure, including waiting past ctx for a rate-limit token, wraps
// types.ErrExpansionFailed.
func (a *AnthropicExpander) Expand(ctx context.Context, query string) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, eris.Wrap(types.ErrExpansionFailed, "empty query")
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrapf(types.ErrExpansionFailed, "rate limit: %v", err)
	}

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: 256,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(fmt.Sprintf(expansionPrompt, query, a.maxTerms))),
		},
	})
	if err != nil {
		return nil, eris.Wrapf(types.ErrExpansionFailed, "anthropic: %v", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		text.WriteString(block.Text)
	}
	terms := parseTerms(text.String())
	if len(terms) == 0 {
		return nil, eris.Wrap(types.ErrExpansionFailed, "anthropic: no terms in response")
	}

	zap.L().Debug("embedder: expanded query",
		zap.String("query", query),
		zap.Strings("terms", terms),
		zap.Duration("elapsed", time.Since(start)))
	return withOriginal(query, terms, a.maxTerms), nil
}

// parseTerms splits a comma or newline separated model reply into terms,
// stripping list markers and quotes.
func parseTerms(reply string) []string {
	fields := strings.FieldsFunc(reply, func(r rune) bool { return r == ',' || r == '\n' })
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimLeft(strings.TrimSpace(f), "-*• ")
		f = trimNumbering(f)
		f = strings.TrimSpace(strings.Trim(f, `"'`))
		if f != "" {
			terms = append(terms, f)
		}
	}
	return terms
}

// trimNumbering removes a leading "1." or "2)" marker
func trimNumbering(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
