package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/adcontextprotocol/signals-agent/internal/config"
	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

const (
	liveRampSegmentsPath  = "/data-marketplace/buyer-api/v3/segments"
	liveRampRequestedPath = "/data-marketplace/buyer-api/v3/requested-segments"

	// liveRampPageSize is the number of segments requested per page
	liveRampPageSize = 100

	// liveRampReachBase is the addressable population coverage is computed against
	liveRampReachBase = 250_000_000.0

	// liveRampMaxCoverage caps the reported coverage percentage
	liveRampMaxCoverage = 50.0

	// liveRampTokenEarlyExpiry refreshes the access token ahead of its expiry
	liveRampTokenEarlyExpiry = 5 * time.Minute

	liveRampDefaultTokenLifetime = time.Hour
)

// LiveRampAdapter talks to the LiveRamp Data Marketplace buyer API
type LiveRampAdapter struct {
	name     string
	baseURL  string
	ownerOrg string
	maxPages int

	tokens oauth2.TokenSource
	client *http.Client
}

// NewLiveRampAdapter builds the adapter. base supplies the transport for both
// token and API calls; nil means a client bounded by the platform timeout.
func NewLiveRampAdapter(name string, cfg config.PlatformConfig, base *http.Client) (*LiveRampAdapter, error) {
	creds := cfg.Credentials
	if creds.ClientID == "" || creds.SecretKey == "" || creds.AccountID == "" {
		return nil, eris.Errorf("adapters: platform %q requires client_id, secret_key and account_id", name)
	}
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout()}
	}

	oauthCfg := &oauth2.Config{
		ClientID: creds.ClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  creds.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	src := &passwordTokenSource{
		cfg:      oauthCfg,
		username: creds.AccountID,
		password: creds.SecretKey,
		client:   base,
	}
	tokens := oauth2.ReuseTokenSourceWithExpiry(nil, src, liveRampTokenEarlyExpiry)

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	return &LiveRampAdapter{
		name:     name,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		ownerOrg: creds.OwnerOrg,
		maxPages: maxPages,
		tokens:   tokens,
		client:   oauth2.NewClient(ctx, tokens),
	}, nil
}

// passwordTokenSource obtains tokens with the OAuth2 resource owner password grant
type passwordTokenSource struct {
	cfg      *oauth2.Config
	username string
	password string
	client   *http.Client
}

func (s *passwordTokenSource) Token() (*oauth2.Token, error) {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.client)
	tok, err := s.cfg.PasswordCredentialsToken(ctx, s.username, s.password)
	if err != nil {
		return nil, err
	}
	if tok.Expiry.IsZero() {
		tok.Expiry = time.Now().Add(liveRampDefaultTokenLifetime)
	}
	return tok, nil
}

func (a *LiveRampAdapter) Name() string {
	return a.name
}

// Authenticate fetches (or reuses) an access token
func (a *LiveRampAdapter) Authenticate(ctx context.Context) error {
	if _, err := a.tokens.Token(); err != nil {
		return eris.Wrapf(types.ErrAdapterAuth, "%s token: %v", a.name, err)
	}
	return nil
}

type liveRampPage struct {
	Segments   []liveRampSegment `json:"v3_Segments"`
	Pagination struct {
		After string `json:"after"`
	} `json:"_pagination"`
}

type liveRampSegment struct {
	ID           flexString         `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	ProviderName string             `json:"providerName"`
	Categories   []liveRampCategory `json:"categories"`
	Reach        struct {
		InputRecords struct {
			Count *float64 `json:"count"`
		} `json:"inputRecords"`
	} `json:"reach"`
	Pricing       map[string]liveRampPrice `json:"pricing"`
	Subscriptions []struct {
		Price struct {
			CPM   *float64 `json:"cpm"`
			Value *float64 `json:"value"`
		} `json:"price"`
	} `json:"subscriptions"`
}

type liveRampPrice struct {
	Value struct {
		Amount *float64 `json:"amount"`
		Unit   string   `json:"unit"`
	} `json:"value"`
}

// flexString accepts a JSON string or number
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// liveRampCategory accepts either {"name": "..."} or a bare string
type liveRampCategory string

func (c *liveRampCategory) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = liveRampCategory(s)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*c = liveRampCategory(obj.Name)
	return nil
}

// FetchSegments pages through the marketplace listing
func (a *LiveRampAdapter) FetchSegments(ctx context.Context, accountID string) ([]types.Segment, error) {
	var out []types.Segment
	after := ""
	for page := 0; page < a.maxPages; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(liveRampPageSize))
		if after != "" {
			q.Set("after", after)
		}

		var body liveRampPage
		if err := a.getJSON(ctx, a.baseURL+liveRampSegmentsPath+"?"+q.Encode(), &body); err != nil {
			return nil, err
		}
		for _, raw := range body.Segments {
			out = append(out, a.normalize(raw, accountID))
		}

		after = body.Pagination.After
		if after == "" || len(body.Segments) == 0 {
			break
		}
	}

	zap.L().Debug("liveramp segments fetched",
		zap.String("platform", a.name),
		zap.String("account_id", accountID),
		zap.Int("count", len(out)),
	)
	return out, nil
}

func (a *LiveRampAdapter) normalize(raw liveRampSegment, accountID string) types.Segment {
	id := string(raw.ID)
	seller := raw.ProviderName
	if seller == "" {
		seller = "Unknown Provider"
	}
	name := raw.Name
	if name == "" {
		name = "LiveRamp Segment " + id
	}
	description := raw.Description
	if description == "" {
		description = "LiveRamp segment from " + seller
	}

	var categories []string
	for _, c := range raw.Categories {
		if c != "" {
			categories = append(categories, string(c))
		}
	}

	seg := types.Segment{
		ID:            liveRampSegmentID(accountID, id),
		ExternalID:    id,
		Name:          name,
		Description:   description,
		Provider:      "LiveRamp (" + seller + ")",
		Categories:    categories,
		SignalType:    types.SignalTypeMarketplace,
		Platform:      a.name,
		AccountID:     accountID,
		CatalogAccess: types.AccessPersonalized,
		Coverage:      liveRampCoverage(raw.Reach.InputRecords.Count),
		CPM:           liveRampCPM(raw),
		Source:        types.SourcePlatformLive,
	}
	seg.Normalize()
	return seg
}

func liveRampSegmentID(accountID, id string) string {
	if accountID == "" {
		return "liveramp_" + id
	}
	return "liveramp_" + accountID + "_" + id
}

// liveRampCoverage converts a reach count into a percentage of the addressable population
func liveRampCoverage(count *float64) *float64 {
	if count == nil || *count < 0 {
		return nil
	}
	pct := math.Min(*count/liveRampReachBase*100, liveRampMaxCoverage)
	return types.Float(math.Round(pct*10) / 10)
}

// liveRampCPM reads the first price the segment carries. Amounts default to cents.
func liveRampCPM(raw liveRampSegment) *float64 {
	for _, kind := range []string{"digitalAdTargeting", "tvTargeting", "contentMarketing"} {
		p, ok := raw.Pricing[kind]
		if !ok || p.Value.Amount == nil {
			continue
		}
		amount := *p.Value.Amount
		if p.Value.Unit == "" || strings.EqualFold(p.Value.Unit, "CENTS") {
			amount /= 100
		}
		return types.Float(amount)
	}
	for _, sub := range raw.Subscriptions {
		if sub.Price.CPM != nil {
			return types.Float(*sub.Price.CPM)
		}
		if sub.Price.Value != nil {
			return types.Float(*sub.Price.Value)
		}
	}
	return nil
}

type liveRampRequested struct {
	ID     flexString `json:"id"`
	Status string     `json:"status"`
}

// ActivateSegment requests the segment for the buyer account
func (a *LiveRampAdapter) ActivateSegment(ctx context.Context, externalID, accountID string) (types.ActivationResult, error) {
	payload := map[string]any{
		"segmentId":    externalID,
		"name":         "Activation_" + externalID,
		"description":  "Activated via signals agent",
		"destinations": []string{},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return types.ActivationResult{}, eris.Wrap(err, "adapters: encode activation")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+liveRampRequestedPath, bytes.NewReader(body))
	if err != nil {
		return types.ActivationResult{}, eris.Wrap(err, "adapters: build activation request")
	}
	req.Header.Set("Content-Type", "application/json")

	var out liveRampRequested
	if err := a.do(req, &out); err != nil {
		return types.ActivationResult{}, err
	}
	if out.ID == "" {
		return types.ActivationResult{}, eris.Wrap(types.ErrAdapterUnavailable, "liveramp activation returned no id")
	}
	return types.ActivationResult{
		PlatformSegmentID: string(out.ID),
		Status:            types.StatusActivating,
		Source:            types.SourcePlatformLive,
	}, nil
}

// CheckStatus reads the state of a requested segment
func (a *LiveRampAdapter) CheckStatus(ctx context.Context, platformSegmentID, accountID string) (types.ActivationStatus, error) {
	var out liveRampRequested
	err := a.getJSON(ctx, a.baseURL+liveRampRequestedPath+"/"+url.PathEscape(platformSegmentID), &out)
	if errors.Is(err, errStatusNotFound) {
		return types.StatusNotFound, nil
	}
	if err != nil {
		return "", err
	}
	return liveRampStatus(out.Status), nil
}

func liveRampStatus(s string) types.ActivationStatus {
	switch strings.ToUpper(s) {
	case "ACTIVE":
		return types.StatusDeployed
	case "PENDING", "PROCESSING":
		return types.StatusActivating
	case "FAILED", "ERROR":
		return types.StatusFailed
	default:
		return types.ActivationStatus(strings.ToLower(s))
	}
}

func (a *LiveRampAdapter) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return eris.Wrap(err, "adapters: build request")
	}
	return a.do(req, v)
}

func (a *LiveRampAdapter) do(req *http.Request, v any) error {
	req.Header.Set("Accept", "application/json")
	if a.ownerOrg != "" {
		req.Header.Set("LR-Org-Id", a.ownerOrg)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransportError(req.Context(), a.name, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, a.name); err != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			zap.L().Warn("liveramp rate limited",
				zap.String("platform", a.name),
				zap.String("retry_after", resp.Header.Get("Retry-After")),
			)
		}
		return err
	}
	return decodeJSON(resp, v)
}

// classifyTransportError maps a failed round trip onto the adapter error taxonomy
func classifyTransportError(ctx context.Context, platform string, err error) error {
	var retrieve *oauth2.RetrieveError
	switch {
	case errors.As(err, &retrieve):
		return eris.Wrapf(types.ErrAdapterAuth, "%s token: %v", platform, err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return eris.Wrapf(types.ErrAdapterTimeout, "%s: %v", platform, err)
	case errors.Is(err, context.Canceled):
		return eris.Wrapf(err, "%s request cancelled", platform)
	default:
		return eris.Wrapf(types.ErrAdapterUnavailable, "%s: %v", platform, err)
	}
}
