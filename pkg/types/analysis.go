package types

import "time"

// DependencyFinding describes one candidate prerequisite of a fix
type DependencyFinding struct {
	CommitID string         `json:"commitId"`
	Subject  string         `json:"subject"`
	Strength float64        `json:"strength"`
	Outcome  *SearchOutcome `json:"searchResult,omitempty"`
	Merged   bool           `json:"isMerged"`
	Unknown  bool           `json:"unknown,omitempty"` // Lookup failed or was cancelled
	Error    string         `json:"error,omitempty"`
	Advice   string         `json:"advice,omitempty"`
	Relation string         `json:"relation,omitempty"`
}

// DependencyReport is the dependency-mode output for one fix
type DependencyReport struct {
	FixID         string              `json:"fixId"`
	Dependencies  []DependencyFinding `json:"dependencies"`
	Edges         []DependencyEdge    `json:"edges"`
	Graph         map[string][]string `json:"dependencyGraph"`
	Plan          MergePlan           `json:"plan"`
	NeedToMerge   []string            `json:"needToMerge"`
	AlreadyMerged []string            `json:"alreadyMerged"`
}

// Analysis is the full workflow result for one fix against one target history
type Analysis struct {
	RunID           string            `json:"runId"`
	Target          string            `json:"target"`
	Reference       string            `json:"reference,omitempty"` // e.g. a vulnerability identifier
	FixID           string            `json:"fixId"`
	IntroducedID    string            `json:"introducedId,omitempty"`
	Introduced      *SearchOutcome    `json:"introduced,omitempty"`
	Fix             *SearchOutcome    `json:"fix"`
	FixAdvice       string            `json:"fixAdvice,omitempty"`
	Dependencies    *DependencyReport `json:"dependencies,omitempty"`
	Recommendations []string          `json:"recommendations"`
	StartedAt       time.Time         `json:"startedAt"`
	Duration        time.Duration     `json:"duration"`
}
