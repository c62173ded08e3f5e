package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// maxResponseBytes bounds the body read from a platform API
const maxResponseBytes = 16 << 20

// PlatformAdapter is the capability set of one decisioning platform.
//
// FetchSegments returns segments with Source set to platform-live, Platform
// set to the adapter name, and ExternalID holding the platform-native id that
// ActivateSegment expects. accountID may be empty for public inventory.
type PlatformAdapter interface {
	Name() string
	Authenticate(ctx context.Context) error
	FetchSegments(ctx context.Context, accountID string) ([]types.Segment, error)
	ActivateSegment(ctx context.Context, externalID, accountID string) (types.ActivationResult, error)
	CheckStatus(ctx context.Context, platformSegmentID, accountID string) (types.ActivationStatus, error)
}

// errStatusNotFound marks a 404 from a platform API
var errStatusNotFound = eris.New("platform resource not found")

// checkResponse maps a non-2xx platform response onto the adapter error taxonomy
func checkResponse(resp *http.Response, platform string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := fmt.Sprintf("%s returned %d: %s", platform, resp.StatusCode, string(body))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return eris.Wrap(types.ErrAdapterAuth, detail)
	case http.StatusNotFound:
		return eris.Wrap(errStatusNotFound, detail)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return eris.Wrap(types.ErrAdapterTimeout, detail)
	default:
		return eris.Wrap(types.ErrAdapterUnavailable, detail)
	}
}

// decodeJSON reads a bounded JSON body into v
func decodeJSON(resp *http.Response, v any) error {
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
		return eris.Wrap(types.ErrAdapterUnavailable, "decode response: "+err.Error())
	}
	return nil
}

// CatalogPlatformSegmentID is the platform segment id assigned to a catalog
// segment deployed on platform.
func CatalogPlatformSegmentID(platform, segmentID, accountID string) string {
	if accountID == "" {
		return platform + "_" + segmentID
	}
	return platform + "_" + segmentID + "_" + accountID
}
