package types

import "time"

// SearchStatus is the terminal state of one staged search
type SearchStatus string

const (
	StatusFound               SearchStatus = "found"
	StatusNotFound            SearchStatus = "not_found"
	StatusInfrastructureError SearchStatus = "infrastructure_error"
)

// Stage names one step of the staged search, cheapest first
type Stage string

const (
	StageExactID         Stage = "exact_id"
	StageSubjectKeywords Stage = "subject_keywords"
	StageFileAndDiff     Stage = "file_and_diff"
	StageTimeWindow      Stage = "time_window"
)

// StageReport records what one stage did during a search
type StageReport struct {
	Stage          Stage         `json:"stage"`
	Candidates     int           `json:"candidates"`
	Unknown        int           `json:"unknown,omitempty"` // Candidates dropped because their diff could not be fetched
	BestConfidence float64       `json:"bestConfidence"`
	Accepted       bool          `json:"accepted"`
	Skipped        bool          `json:"skipped,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// SearchOutcome is the result of looking up one source commit in a target history
type SearchOutcome struct {
	SourceID   string        `json:"sourceId"`
	Status     SearchStatus  `json:"status"`
	Match      *MatchResult  `json:"match,omitempty"`
	Candidates []MatchResult `json:"candidates"`
	Stages     []StageReport `json:"stages"`
	Duration   time.Duration `json:"duration"`
	CacheHit   bool          `json:"cacheHit"`
}

// Found reports whether the search produced an accepted match
func (o *SearchOutcome) Found() bool {
	return o != nil && o.Status == StatusFound && o.Match != nil
}

// Confidence returns the accepted match confidence, or 0
func (o *SearchOutcome) Confidence() float64 {
	if !o.Found() {
		return 0
	}
	return o.Match.Confidence
}

// TargetID returns the accepted target commit id, or ""
func (o *SearchOutcome) TargetID() string {
	if !o.Found() {
		return ""
	}
	return o.Match.TargetID
}
