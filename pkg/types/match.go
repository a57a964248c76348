package types

// Strategy identifies which matching rule produced a MatchResult
type Strategy string

const (
	StrategyExactID           Strategy = "exact_id"
	StrategySubjectSimilarity Strategy = "subject_similarity"
	StrategyFileAndDiff       Strategy = "file_and_diff_similarity"
	StrategyTimeWindow        Strategy = "time_window_fallback"
)

// Valid reports whether s is one of the known strategies
func (s Strategy) Valid() bool {
	switch s {
	case StrategyExactID, StrategySubjectSimilarity, StrategyFileAndDiff, StrategyTimeWindow:
		return true
	}
	return false
}

// MatchResult links a source commit to a candidate in the target history
type MatchResult struct {
	SourceID   string         `json:"sourceId"`
	TargetID   string         `json:"targetId"`
	Confidence float64        `json:"confidence"`
	Strategy   Strategy       `json:"strategy"`
	Details    map[string]any `json:"details,omitempty"`
}

// Validate checks if the match result is well formed
func (m *MatchResult) Validate() error {
	if m.TargetID == "" {
		return ErrEmptyTargetID
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return ErrInvalidConfidence
	}
	if !m.Strategy.Valid() {
		return ErrUnknownStrategy
	}
	return nil
}
