// Package types provides shared type definitions for the signals agent.
//
// These are value objects passed between the catalog, the platform adapters,
// the ranking pipeline, and the transports. They are copied freely and never
// mutated after construction; use Clone when a private copy is required.
//
// # Segments
//
// Segment is the unit of targetable inventory, sourced either from the local
// catalog or from a live platform call:
//
//	seg := types.Segment{
//	    ID:            "luxury_auto_intenders",
//	    Name:          "Luxury Automotive Intenders",
//	    Provider:      "Experian",
//	    CatalogAccess: types.AccessPersonalized,
//	    Coverage:      types.Float(8.5),
//	    CPM:           types.Float(6.00),
//	}
//	seg.Normalize()
//
// Coverage and CPM are pointers. A nil value means the source did not report
// the figure; it is rendered as null with has_coverage_data or
// has_pricing_data set to false, and it is never replaced with an estimate.
//
// # Principals
//
// A Principal is resolved once per request from configuration. Its
// AccessLevel gates which catalog_access tiers are visible, and its
// PlatformAccounts map decides which platforms may be queried or activated.
//
// # Errors
//
// ErrPermissionDenied and ErrInvalidSegment are surfaced to callers, wrapped
// in a SegmentError carrying the offending id. The remaining sentinels
// describe failures that are absorbed and only degrade a single source.
package types
