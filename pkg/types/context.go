package types

import "time"

// Activation records one activation linked to a discovery context
type Activation struct {
	SegmentID   string    `json:"segment_id"`
	Platform    string    `json:"platform"`
	ActivatedAt time.Time `json:"activated_at"`
}

// DiscoveryContext links a discovery result set to later activation calls.
// Contexts are ephemeral and live only in process memory.
type DiscoveryContext struct {
	ContextID            string       `json:"context_id"`
	SignalSpec           string       `json:"signal_spec"`
	DiscoveredSegmentIDs []string     `json:"discovered_segment_ids"`
	PrincipalID          string       `json:"principal_id,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	Activations          []Activation `json:"activations"`
}

// Clone returns a deep copy
func (c DiscoveryContext) Clone() DiscoveryContext {
	out := c
	out.DiscoveredSegmentIDs = append([]string(nil), c.DiscoveredSegmentIDs...)
	out.Activations = append([]Activation(nil), c.Activations...)
	return out
}
