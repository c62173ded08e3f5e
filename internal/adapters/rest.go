package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"

	"github.com/adcontextprotocol/signals-agent/internal/config"
	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// RESTAdapter speaks a small generic JSON platform API:
//
//	GET  {base}/segments?account_id=
//	POST {base}/activations
//	GET  {base}/activations/{id}?account_id=
//
// Requests carry the configured api_key as a bearer token.
type RESTAdapter struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewRESTAdapter builds the adapter. base supplies the transport; nil means a
// client bounded by the platform timeout.
func NewRESTAdapter(name string, cfg config.PlatformConfig, base *http.Client) (*RESTAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, eris.Errorf("adapters: platform %q requires base_url", name)
	}
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout()}
	}

	client := base
	if key := cfg.Credentials.APIKey; key != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: key}))
	}

	return &RESTAdapter{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
	}, nil
}

func (a *RESTAdapter) Name() string {
	return a.name
}

// Authenticate checks the credentials with a cheap listing call
func (a *RESTAdapter) Authenticate(ctx context.Context) error {
	var out restSegmentList
	return a.call(ctx, http.MethodGet, a.baseURL+"/segments?limit=1", nil, &out)
}

type restSegmentList struct {
	Segments []restSegment `json:"segments"`
}

type restSegment struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Provider      string   `json:"provider"`
	Categories    []string `json:"categories"`
	SignalType    string   `json:"signal_type"`
	CatalogAccess string   `json:"catalog_access"`
	Coverage      *float64 `json:"coverage_percentage"`
	CPM           *float64 `json:"cpm"`
}

type restActivation struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// FetchSegments lists the segments available to the account
func (a *RESTAdapter) FetchSegments(ctx context.Context, accountID string) ([]types.Segment, error) {
	q := url.Values{}
	if accountID != "" {
		q.Set("account_id", accountID)
	}
	rawURL := a.baseURL + "/segments"
	if len(q) > 0 {
		rawURL += "?" + q.Encode()
	}

	var out restSegmentList
	if err := a.call(ctx, http.MethodGet, rawURL, nil, &out); err != nil {
		return nil, err
	}

	segments := make([]types.Segment, 0, len(out.Segments))
	for _, raw := range out.Segments {
		if raw.ID == "" {
			continue
		}
		seg := types.Segment{
			ID:            a.name + "_" + segmentKey(accountID, raw.ID),
			ExternalID:    raw.ID,
			Name:          raw.Name,
			Description:   raw.Description,
			Provider:      raw.Provider,
			Categories:    raw.Categories,
			SignalType:    raw.SignalType,
			Platform:      a.name,
			AccountID:     accountID,
			CatalogAccess: types.AccessLevel(raw.CatalogAccess),
			Coverage:      raw.Coverage,
			CPM:           raw.CPM,
			Source:        types.SourcePlatformLive,
		}
		if seg.Name == "" {
			seg.Name = raw.ID
		}
		if accountID != "" && seg.CatalogAccess == "" {
			seg.CatalogAccess = types.AccessPersonalized
		}
		seg.Normalize()
		segments = append(segments, seg)
	}
	return segments, nil
}

func segmentKey(accountID, id string) string {
	if accountID == "" {
		return id
	}
	return accountID + "_" + id
}

// ActivateSegment posts an activation request
func (a *RESTAdapter) ActivateSegment(ctx context.Context, externalID, accountID string) (types.ActivationResult, error) {
	body, err := json.Marshal(map[string]string{"segment_id": externalID, "account_id": accountID})
	if err != nil {
		return types.ActivationResult{}, eris.Wrap(err, "adapters: encode activation")
	}

	var out restActivation
	if err := a.call(ctx, http.MethodPost, a.baseURL+"/activations", body, &out); err != nil {
		return types.ActivationResult{}, err
	}
	if out.ID == "" {
		return types.ActivationResult{}, eris.Wrapf(types.ErrAdapterUnavailable, "%s activation returned no id", a.name)
	}
	status := types.ActivationStatus(out.Status)
	if status == "" {
		status = types.StatusActivating
	}
	return types.ActivationResult{PlatformSegmentID: out.ID, Status: status, Source: types.SourcePlatformLive}, nil
}

// CheckStatus reads an activation's state. Unknown ids report not_found.
func (a *RESTAdapter) CheckStatus(ctx context.Context, platformSegmentID, accountID string) (types.ActivationStatus, error) {
	rawURL := a.baseURL + "/activations/" + url.PathEscape(platformSegmentID)
	if accountID != "" {
		rawURL += "?" + url.Values{"account_id": {accountID}}.Encode()
	}

	var out restActivation
	err := a.call(ctx, http.MethodGet, rawURL, nil, &out)
	if errors.Is(err, errStatusNotFound) {
		return types.StatusNotFound, nil
	}
	if err != nil {
		return "", err
	}
	return types.ActivationStatus(out.Status), nil
}

func (a *RESTAdapter) call(ctx context.Context, method, rawURL string, body []byte, v any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return eris.Wrap(err, "adapters: build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransportError(ctx, a.name, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, a.name); err != nil {
		return err
	}
	return decodeJSON(resp, v)
}
