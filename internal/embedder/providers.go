package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hashing-v1"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// MaxBatchSize is the most texts sent in one API call
	MaxBatchSize = 100

	jinaEndpoint   = "https://api.jina.ai/v1/embeddings"
	openAIEndpoint = "https://api.openai.com/v1/embeddings"
)

// RemoteProvider calls an OpenAI-compatible /v1/embeddings endpoint. Jina and
// OpenAI share the request and response shape.
type RemoteProvider struct {
	name       string
	endpoint   string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
}

// NewJinaProvider creates a Jina AI embedder
func NewJinaProvider(apiKey string, cache *Cache) (*RemoteProvider, error) {
	return newRemoteProvider(ProviderJina, jinaEndpoint, DefaultJinaModel, JinaDimension, apiKey, cache)
}

// NewOpenAIProvider creates an OpenAI embedder
func NewOpenAIProvider(apiKey string, cache *Cache) (*RemoteProvider, error) {
	return newRemoteProvider(ProviderOpenAI, openAIEndpoint, DefaultOpenAIModel, OpenAIDimension, apiKey, cache)
}

func newRemoteProvider(name, endpoint, model string, dim int, apiKey string, cache *Cache) (*RemoteProvider, error) {
	if apiKey == "" {
		return nil, eris.Wrapf(ErrNoProviderEnabled, "%s api key not set", name)
	}
	return &RemoteProvider{
		name:       name,
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		dimension:  dim,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      cache,
		retry:      DefaultRetryConfig(),
	}, nil
}

// WithEndpoint points the provider at a different base endpoint
func (p *RemoteProvider) WithEndpoint(endpoint string) *RemoteProvider {
	p.endpoint = endpoint
	return p
}

func (p *RemoteProvider) GenerateEmbedding(ctx context.Context, text string) (*Embedding, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	out, err := p.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (p *RemoteProvider) GenerateBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := validateBatch(texts, MaxBatchSize); err != nil {
		return nil, err
	}
	return cachedBatch(ctx, p.cache, texts, func(ctx context.Context, missing []string) ([]*Embedding, error) {
		embeddings, err := retryWithBackoff(ctx, p.retry, func() ([]*Embedding, error) {
			return p.callAPI(ctx, missing)
		})
		if err != nil {
			return nil, eris.Wrapf(ErrProviderFailed, "%s: %v", p.name, err)
		}
		return embeddings, nil
	})
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (p *RemoteProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	body, err := json.Marshal(map[string]interface{}{
		"input": texts,
		"model": p.model,
	})
	if err != nil {
		return nil, permanent(eris.Wrap(err, "marshal request"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(eris.Wrap(err, "create request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "api call")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := eris.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		// Client errors other than throttling will not succeed on retry
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(apiErr)
		}
		return nil, apiErr
	}

	var apiResp embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, eris.Wrap(err, "decode response")
	}
	if len(apiResp.Data) != len(texts) {
		return nil, eris.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	model := apiResp.Model
	if model == "" {
		model = p.model
	}
	embeddings := make([]*Embedding, len(texts))
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, eris.Errorf("embedding index %d out of range", d.Index)
		}
		embeddings[d.Index] = &Embedding{
			Vector:    d.Embedding,
			Dimension: len(d.Embedding),
			Provider:  p.name,
			Model:     model,
		}
	}
	for i, e := range embeddings {
		if e == nil {
			return nil, eris.Errorf("missing embedding for index %d", i)
		}
	}
	return embeddings, nil
}

func (p *RemoteProvider) Dimension() int   { return p.dimension }
func (p *RemoteProvider) Provider() string { return p.name }
func (p *RemoteProvider) Model() string    { return p.model }

func (p *RemoteProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider embeds text offline by feature hashing. Words and their
// character trigrams are hashed into a fixed number of signed buckets, so
// texts sharing vocabulary land close together. It needs no network and is
// deterministic, which makes it the default for development and tests.
type LocalProvider struct {
	model string
	cache *Cache
}

// NewLocalProvider creates a local hashing embedder
func NewLocalProvider(cache *Cache) *LocalProvider {
	return &LocalProvider{model: DefaultLocalModel, cache: cache}
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, text string) (*Embedding, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	out, err := l.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := validateBatch(texts, 0); err != nil {
		return nil, err
	}
	return cachedBatch(ctx, l.cache, texts, func(ctx context.Context, missing []string) ([]*Embedding, error) {
		out := make([]*Embedding, len(missing))
		for i, text := range missing {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out[i] = &Embedding{
				Vector:    hashingVector(text),
				Dimension: LocalDimension,
				Provider:  ProviderLocal,
				Model:     l.model,
			}
		}
		return out, nil
	})
}

func (l *LocalProvider) Dimension() int   { return LocalDimension }
func (l *LocalProvider) Provider() string { return ProviderLocal }
func (l *LocalProvider) Model() string    { return l.model }
func (l *LocalProvider) Close() error     { return nil }

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "for": true, "from": true,
	"in": true, "of": true, "on": true, "or": true, "the": true, "to": true,
	"who": true, "with": true, "that": true, "their": true, "is": true,
}

// Tokens lowercases text, splits on non-alphanumerics, drops stop words and
// trims a plural "s".
func Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if stopWords[f] {
			continue
		}
		if len(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			f = strings.TrimSuffix(f, "s")
		}
		out = append(out, f)
	}
	return out
}

func hashingVector(text string) []float32 {
	vec := make([]float32, LocalDimension)
	for _, tok := range Tokens(text) {
		addFeature(vec, "w:"+tok, 1.0)
		padded := "^" + tok + "$"
		for i := 0; i+3 <= len(padded); i++ {
			addFeature(vec, "g:"+padded[i:i+3], 0.3)
		}
	}
	return NormalizeVector(vec)
}

func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := sum % uint64(len(vec))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}

// NormalizeVector scales v to unit length. Zero vectors are returned as is.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}
