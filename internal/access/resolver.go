// Package access decides which candidates a principal may see and at what price.
package access

import (
	"context"

	"go.uber.org/zap"

	"github.com/adcontextprotocol/signals-agent/internal/config"
	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// DefaultCurrency is reported on every price
const DefaultCurrency = "USD"

// PricingSource supplies principal-specific prices
type PricingSource interface {
	NegotiatedCPMs(ctx context.Context, principalID string, segmentIDs []string) (map[string]float64, error)
}

// PlatformDirectory answers whether a platform's segments need an account mapping
type PlatformDirectory interface {
	RequiresAccount(platform string) bool
}

// Resolver filters candidates by visibility and applies negotiated pricing
type Resolver struct {
	platforms PlatformDirectory
	pricing   []PricingSource
}

// NewResolver creates a resolver. Pricing sources are consulted in order; the
// first source holding a price for a segment wins. platforms may be nil, in
// which case every platform is treated as platform-agnostic.
func NewResolver(platforms PlatformDirectory, pricing ...PricingSource) *Resolver {
	return &Resolver{platforms: platforms, pricing: pricing}
}

// Visible reports whether principal may see seg
func (r *Resolver) Visible(seg types.Segment, principal types.Principal) bool {
	if !principal.AccessLevel.Allows(seg.CatalogAccess) {
		return false
	}
	if seg.AccountID != "" {
		account, ok := principal.AccountFor(seg.Platform)
		if !ok || account != seg.AccountID {
			return false
		}
	}
	if seg.Platform != "" && r.platforms != nil && r.platforms.RequiresAccount(seg.Platform) {
		if _, ok := principal.AccountFor(seg.Platform); !ok {
			return false
		}
	}
	return true
}

// FilterAndPrice drops candidates the principal may not see and prices the
// rest. Input order is preserved. Candidates are copied, never modified.
func (r *Resolver) FilterAndPrice(ctx context.Context, candidates []types.ScoredCandidate, principal types.Principal) []types.ScoredCandidate {
	out := make([]types.ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !r.Visible(c.Segment, principal) {
			continue
		}
		c.Segment = c.Segment.Clone()
		c.Pricing = types.Pricing{
			CPM:      cloneFloat(c.Segment.CPM),
			ListCPM:  cloneFloat(c.Segment.CPM),
			Currency: DefaultCurrency,
		}
		out = append(out, c)
	}

	if principal.IsAnonymous() || principal.AccessLevel == types.AccessPublic || len(out) == 0 {
		return out
	}

	prices := r.negotiated(ctx, principal.ID, out)
	for i := range out {
		if cpm, ok := prices[out[i].Segment.ID]; ok {
			out[i].Pricing.CPM = types.Float(cpm)
			out[i].Pricing.Negotiated = true
		}
	}
	return out
}

// negotiated merges prices from every source, earlier sources first
func (r *Resolver) negotiated(ctx context.Context, principalID string, candidates []types.ScoredCandidate) map[string]float64 {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Segment.ID
	}

	merged := make(map[string]float64)
	for _, src := range r.pricing {
		prices, err := src.NegotiatedCPMs(ctx, principalID, ids)
		if err != nil {
			zap.L().Warn("access: negotiated pricing lookup failed, using list prices",
				zap.String("principal_id", principalID),
				zap.Error(err),
			)
			continue
		}
		for id, cpm := range prices {
			if _, seen := merged[id]; !seen {
				merged[id] = cpm
			}
		}
	}
	return merged
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return types.Float(*v)
}

// StaticPricing serves negotiated prices declared in configuration
type StaticPricing map[string]map[string]float64 // principal -> segment -> cpm

// ConfigPricing collects principals[].negotiated_cpm
func ConfigPricing(principals []config.PrincipalConfig) StaticPricing {
	out := make(StaticPricing, len(principals))
	for _, p := range principals {
		if len(p.NegotiatedCPM) == 0 {
			continue
		}
		prices := make(map[string]float64, len(p.NegotiatedCPM))
		for id, cpm := range p.NegotiatedCPM {
			prices[id] = cpm
		}
		out[p.ID] = prices
	}
	return out
}

func (s StaticPricing) NegotiatedCPMs(_ context.Context, principalID string, segmentIDs []string) (map[string]float64, error) {
	prices := s[principalID]
	out := make(map[string]float64)
	for _, id := range segmentIDs {
		if cpm, ok := prices[id]; ok {
			out[id] = cpm
		}
	}
	return out, nil
}
