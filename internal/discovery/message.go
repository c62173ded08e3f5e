package discovery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/adcontextprotocol/signals-agent/internal/searcher"
	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

func composeDiscoverMessage(query string, candidates []types.ScoredCandidate, resp *searcher.Response) string {
	var parts []string

	switch len(candidates) {
	case 0:
		if query == "" {
			parts = append(parts, "No signal description was given. Describe the audience you want to reach.")
		} else {
			parts = append(parts, fmt.Sprintf("No signals matched %q. Try a broader description or different keywords.", query))
		}
	case 1:
		parts = append(parts, fmt.Sprintf("Found 1 signal for %q.", query))
	default:
		parts = append(parts, fmt.Sprintf("Found %d signals for %q.", len(candidates), query))
	}

	var unknownCoverage, unknownPricing, negotiated int
	for _, c := range candidates {
		if c.Segment.Coverage == nil {
			unknownCoverage++
		}
		if c.Pricing.CPM == nil {
			unknownPricing++
		}
		if c.Pricing.Negotiated {
			negotiated++
		}
	}
	if unknownCoverage > 0 {
		parts = append(parts, fmt.Sprintf("Coverage is unknown for %d of them.", unknownCoverage))
	}
	if unknownPricing > 0 {
		parts = append(parts, fmt.Sprintf("Pricing is unknown for %d of them.", unknownPricing))
	}
	if negotiated > 0 {
		parts = append(parts, fmt.Sprintf("%d priced at your negotiated rate.", negotiated))
	}

	switch {
	case resp.CatalogFailed:
		parts = append(parts, "The signal catalog could not be searched, so only live platform results are shown.")
	case resp.Degraded:
		parts = append(parts, "Part of the catalog search failed, so some matching signals may be missing.")
	}
	if notes := platformNotes(resp.Platforms); len(notes) > 0 {
		parts = append(parts, "Reduced coverage: "+strings.Join(notes, "; ")+".")
	}
	if resp.ExpansionFailed {
		parts = append(parts, "Query expansion was unavailable, so only the original description was searched.")
	}
	return strings.Join(parts, " ")
}

// platformNotes describes every failed platform, in name order
func platformNotes(platforms map[string]types.AdapterResult) []string {
	names := make([]string, 0, len(platforms))
	for name, r := range platforms {
		if r.Failed() {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	notes := make([]string, len(names))
	for i, name := range names {
		notes[i] = fmt.Sprintf("%s unavailable (%s)", name, platforms[name].Failure)
	}
	return notes
}

func composeActivateMessage(req ActivateRequest, result types.ActivationResult, linked bool) string {
	var msg string
	switch result.Status {
	case types.StatusDeployed:
		msg = fmt.Sprintf("Signal %s is live on %s as %s.", req.SegmentID, req.Platform, result.PlatformSegmentID)
	case types.StatusActivating:
		msg = fmt.Sprintf("Signal %s is activating on %s as %s. Check its status to see when it is live.", req.SegmentID, req.Platform, result.PlatformSegmentID)
	default:
		msg = fmt.Sprintf("Activation of %s on %s reported status %s.", req.SegmentID, req.Platform, result.Status)
	}
	if req.ContextID != "" && !linked {
		msg += fmt.Sprintf(" Context %s was not found or has expired, so this activation is not linked to a discovery.", req.ContextID)
	}
	return msg
}

func composeStatusMessage(req StatusRequest, status types.ActivationStatus) string {
	switch status {
	case types.StatusDeployed:
		return fmt.Sprintf("Signal %s is live on %s.", req.SegmentID, req.Platform)
	case types.StatusActivating:
		return fmt.Sprintf("Signal %s is still activating on %s.", req.SegmentID, req.Platform)
	case types.StatusFailed:
		return fmt.Sprintf("Activation of %s on %s failed.", req.SegmentID, req.Platform)
	case types.StatusNotFound:
		return fmt.Sprintf("No activation of %s was found on %s.", req.SegmentID, req.Platform)
	default:
		return fmt.Sprintf("Signal %s on %s reports status %s.", req.SegmentID, req.Platform, status)
	}
}
