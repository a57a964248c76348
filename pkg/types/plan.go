package types

// DependencyEdge records that From requires To to be applied first
type DependencyEdge struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Strength float64 `json:"strength"`
}

// Validate checks edge endpoints and strength range
func (e *DependencyEdge) Validate() error {
	if e.From == "" || e.To == "" {
		return ErrEdgeEndpointsRequired
	}
	if e.Strength < 0 || e.Strength > 1 {
		return ErrInvalidEdgeStrength
	}
	return nil
}

// MergePlan is an application order in which every prerequisite precedes its
// dependents. When a cycle blocks full ordering, Complete is false and
// Unresolved lists every identifier that could not be placed.
type MergePlan struct {
	Order      []string `json:"mergeOrder"`
	Complete   bool     `json:"complete"`
	Unresolved []string `json:"unresolved,omitempty"`
}
