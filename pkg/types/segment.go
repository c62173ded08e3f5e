package types

import "strings"

// Source identifies where a segment was obtained
type Source string

const (
	SourceCatalog      Source = "catalog"
	SourcePlatformLive Source = "platform-live"
)

// AccessLevel is both a principal's clearance and a segment's catalog visibility
type AccessLevel string

const (
	AccessPublic       AccessLevel = "public"
	AccessPersonalized AccessLevel = "personalized"
	AccessPrivate      AccessLevel = "private"
)

// Valid reports whether the level is one of the known access levels
func (a AccessLevel) Valid() bool {
	switch a {
	case AccessPublic, AccessPersonalized, AccessPrivate:
		return true
	}
	return false
}

// Allows reports whether a principal at level a may see a segment whose
// catalog access is target.
func (a AccessLevel) Allows(target AccessLevel) bool {
	if target == "" {
		target = AccessPublic
	}
	return a.rank() >= target.rank()
}

func (a AccessLevel) rank() int {
	switch a {
	case AccessPersonalized:
		return 1
	case AccessPrivate:
		return 2
	default:
		return 0
	}
}

// Signal types as exposed to buyers
const (
	SignalTypeMarketplace = "marketplace"
	SignalTypePrivate     = "private"
	SignalTypeCustom      = "custom"
)

// Segment is a targetable audience, contextual, or temporal inventory unit.
//
// Coverage and CPM are nil when the source did not report them. They are
// never estimated; HasCoverageData and HasPricingData mirror their presence.
type Segment struct {
	// Identification
	ID         string `json:"id" yaml:"id" mapstructure:"id"`
	ExternalID string `json:"external_id,omitempty" yaml:"external_id,omitempty" mapstructure:"external_id"` // Platform-native id for live segments

	// Descriptive
	Name        string   `json:"name" yaml:"name" mapstructure:"name"`
	Description string   `json:"description" yaml:"description" mapstructure:"description"`
	Provider    string   `json:"provider" yaml:"provider" mapstructure:"provider"`
	Categories  []string `json:"categories,omitempty" yaml:"categories,omitempty" mapstructure:"categories"`
	SignalType  string   `json:"signal_type" yaml:"signal_type" mapstructure:"signal_type"`

	// Placement
	Platform      string      `json:"platform,omitempty" yaml:"platform,omitempty" mapstructure:"platform"`
	AccountID     string      `json:"account_id,omitempty" yaml:"account_id,omitempty" mapstructure:"account_id"` // Empty means platform-wide
	CatalogAccess AccessLevel `json:"catalog_access" yaml:"catalog_access" mapstructure:"catalog_access"`

	// Reach and price (nullable)
	Coverage        *float64 `json:"coverage_percentage" yaml:"coverage_percentage" mapstructure:"coverage_percentage"`
	CPM             *float64 `json:"cpm" yaml:"cpm" mapstructure:"cpm"`
	RevenueShare    *float64 `json:"revenue_share_percentage,omitempty" yaml:"revenue_share_percentage,omitempty" mapstructure:"revenue_share_percentage"`
	HasCoverageData bool     `json:"has_coverage_data" yaml:"-" mapstructure:"-"`
	HasPricingData  bool     `json:"has_pricing_data" yaml:"-" mapstructure:"-"`

	Source Source `json:"source" yaml:"-" mapstructure:"-"`
}

// Normalize fills defaults and recomputes the data-presence flags.
func (s *Segment) Normalize() {
	s.ID = strings.TrimSpace(s.ID)
	if s.CatalogAccess == "" {
		s.CatalogAccess = AccessPublic
	}
	if s.SignalType == "" {
		s.SignalType = SignalTypeMarketplace
	}
	if s.Source == "" {
		s.Source = SourceCatalog
	}
	s.HasCoverageData = s.Coverage != nil
	s.HasPricingData = s.CPM != nil
}

// Validate checks the segment's required fields
func (s *Segment) Validate() error {
	if s.ID == "" {
		return ErrEmptySegmentID
	}
	if s.Name == "" {
		return ErrEmptySegmentName
	}
	if !s.CatalogAccess.Valid() {
		return ErrInvalidAccessLevel
	}
	if s.Coverage != nil && (*s.Coverage < 0 || *s.Coverage > 100) {
		return ErrInvalidCoverage
	}
	if s.CPM != nil && *s.CPM < 0 {
		return ErrInvalidCPM
	}
	return nil
}

// Clone returns a deep copy
func (s Segment) Clone() Segment {
	out := s
	if s.Categories != nil {
		out.Categories = append([]string(nil), s.Categories...)
	}
	out.Coverage = cloneFloat(s.Coverage)
	out.CPM = cloneFloat(s.CPM)
	out.RevenueShare = cloneFloat(s.RevenueShare)
	return out
}

// Float returns a pointer to v, for populating nullable fields
func Float(v float64) *float64 {
	return &v
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Pricing is the principal-adjusted price of a candidate
type Pricing struct {
	CPM        *float64 `json:"cpm"`
	ListCPM    *float64 `json:"list_cpm"`
	Currency   string   `json:"currency"`
	Negotiated bool     `json:"negotiated"`
}

// ScoredCandidate wraps a Segment with its ranking information.
type ScoredCandidate struct {
	Segment Segment `json:"segment"`

	// Component scores, normalized to [0, 1]. Nil when the dimension did not
	// produce a hit for this segment.
	FTSScore    *float64 `json:"fts_score"`
	VectorScore *float64 `json:"vector_score"`
	FloorScore  *float64 `json:"floor_score,omitempty"` // Live-only similarity floor

	MergedScore float64 `json:"merged_score"`
	Rank        int     `json:"rank"` // Position in result set (1-based), set after truncation

	Pricing Pricing `json:"pricing"`
}

// Filters narrows a discovery result set. A bound on coverage or price
// excludes candidates whose value for that field is unknown.
type Filters struct {
	MaxCPM      *float64 `json:"max_cpm,omitempty"`
	MinCoverage *float64 `json:"min_coverage_percentage,omitempty"`
	Providers   []string `json:"data_providers,omitempty"`
	SignalTypes []string `json:"catalog_types,omitempty"`
}

// Match reports whether a priced candidate passes the filters
func (f Filters) Match(c ScoredCandidate) bool {
	if f.MaxCPM != nil {
		if c.Pricing.CPM == nil || *c.Pricing.CPM > *f.MaxCPM {
			return false
		}
	}
	if f.MinCoverage != nil {
		if c.Segment.Coverage == nil || *c.Segment.Coverage < *f.MinCoverage {
			return false
		}
	}
	if len(f.Providers) > 0 && !containsFold(f.Providers, c.Segment.Provider) {
		return false
	}
	if len(f.SignalTypes) > 0 && !containsFold(f.SignalTypes, c.Segment.SignalType) {
		return false
	}
	return true
}

// Empty reports whether no filter is set
func (f Filters) Empty() bool {
	return f.MaxCPM == nil && f.MinCoverage == nil && len(f.Providers) == 0 && len(f.SignalTypes) == 0
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
