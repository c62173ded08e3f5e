package types

// Principal is the identity a discovery or activation call runs on behalf of.
// Principals are loaded from configuration and never mutated afterwards.
type Principal struct {
	ID               string            `json:"principal_id"`
	AccessLevel      AccessLevel       `json:"access_level"`
	PlatformAccounts map[string]string `json:"platform_accounts,omitempty"` // platform -> account id
}

// Anonymous is the principal used when no (or an unknown) principal id is supplied
func Anonymous() Principal {
	return Principal{AccessLevel: AccessPublic}
}

// IsAnonymous reports whether p carries no identity
func (p Principal) IsAnonymous() bool {
	return p.ID == ""
}

// AccountFor returns the principal's mapped account on platform
func (p Principal) AccountFor(platform string) (string, bool) {
	if p.PlatformAccounts == nil {
		return "", false
	}
	account, ok := p.PlatformAccounts[platform]
	if !ok || account == "" {
		return "", false
	}
	return account, true
}

// FailureKind classifies a platform adapter failure
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureAuth        FailureKind = "auth_error"
	FailureTimeout     FailureKind = "timeout"
	FailureUnavailable FailureKind = "unavailable"
)

// AdapterResult is the outcome of one platform fetch: segments or a failure marker.
type AdapterResult struct {
	Platform  string      `json:"platform"`
	AccountID string      `json:"account_id,omitempty"`
	Segments  []Segment   `json:"-"`
	Failure   FailureKind `json:"failure,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	Cached    bool        `json:"cached"`
	FetchedAt int64       `json:"fetched_at,omitempty"` // Unix seconds
}

// Failed reports whether the platform contributed no segments because of an error
func (r AdapterResult) Failed() bool {
	return r.Failure != FailureNone
}

// ActivationStatus is the deployment state of a segment on a platform.
// Adapters may report values outside the known set; they are passed through.
type ActivationStatus string

const (
	StatusDeployed   ActivationStatus = "deployed"
	StatusActivating ActivationStatus = "activating"
	StatusFailed     ActivationStatus = "failed"
	StatusNotFound   ActivationStatus = "not_found"
)

// ActivationResult is returned by an adapter or the manager after an activation request
type ActivationResult struct {
	PlatformSegmentID string           `json:"platform_segment_id"`
	Status            ActivationStatus `json:"status"`
	Source            Source           `json:"source"`
}
