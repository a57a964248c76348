package report

import (
	"slices"
	"time"

	"github.com/dshills/backport-mcp/pkg/types"
)

// SearchReport is the document for one staged search
type SearchReport struct {
	SourceID     string      `json:"sourceId" yaml:"sourceId"`
	Found        bool        `json:"found" yaml:"found"`
	Status       string      `json:"status" yaml:"status"`
	Strategy     string      `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Confidence   float64     `json:"confidence" yaml:"confidence"`
	TargetCommit string      `json:"targetCommit,omitempty" yaml:"targetCommit,omitempty"`
	Candidates   []Candidate `json:"candidates" yaml:"candidates"`
	Stages       []Stage     `json:"stages" yaml:"stages"`
	DurationMS   int64       `json:"durationMs" yaml:"durationMs"`
	CacheHit     bool        `json:"cacheHit" yaml:"cacheHit"`
}

// Candidate is one ranked match
type Candidate struct {
	TargetCommit string         `json:"targetCommit" yaml:"targetCommit"`
	Strategy     string         `json:"strategy" yaml:"strategy"`
	Confidence   float64        `json:"confidence" yaml:"confidence"`
	Details      map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// Stage is what one search stage did
type Stage struct {
	Stage          string  `json:"stage" yaml:"stage"`
	Candidates     int     `json:"candidates" yaml:"candidates"`
	Unknown        int     `json:"unknown,omitempty" yaml:"unknown,omitempty"`
	BestConfidence float64 `json:"bestConfidence" yaml:"bestConfidence"`
	Accepted       bool    `json:"accepted" yaml:"accepted"`
	Skipped        bool    `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Error          string  `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMS     int64   `json:"durationMs" yaml:"durationMs"`
}

// DependencyDocument is the dependency-mode document for one fix
type DependencyDocument struct {
	FixID           string                 `json:"fixId" yaml:"fixId"`
	MergeOrder      []string               `json:"mergeOrder" yaml:"mergeOrder"`
	Complete        bool                   `json:"complete" yaml:"complete"`
	Unresolved      []string               `json:"unresolved" yaml:"unresolved"`
	DependencyGraph map[string][]string    `json:"dependencyGraph" yaml:"dependencyGraph"`
	Edges           []types.DependencyEdge `json:"edges" yaml:"edges"`
	Dependencies    []Dependency           `json:"dependencies" yaml:"dependencies"`
	NeedToMerge     []string               `json:"needToMerge" yaml:"needToMerge"`
	AlreadyMerged   []string               `json:"alreadyMerged" yaml:"alreadyMerged"`
}

// Dependency is one prerequisite and what the target search said about it
type Dependency struct {
	CommitID     string  `json:"commitId" yaml:"commitId"`
	Subject      string  `json:"subject" yaml:"subject"`
	Strength     float64 `json:"strength" yaml:"strength"`
	Merged       bool    `json:"isMerged" yaml:"isMerged"`
	Unknown      bool    `json:"unknown,omitempty" yaml:"unknown,omitempty"`
	Error        string  `json:"error,omitempty" yaml:"error,omitempty"`
	TargetCommit string  `json:"targetCommit,omitempty" yaml:"targetCommit,omitempty"`
	Strategy     string  `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Confidence   float64 `json:"confidence" yaml:"confidence"`
	Relation     string  `json:"relation,omitempty" yaml:"relation,omitempty"`
	Advice       string  `json:"advice,omitempty" yaml:"advice,omitempty"`
}

// AnalysisDocument is the full workflow document
type AnalysisDocument struct {
	RunID           string              `json:"runId" yaml:"runId"`
	Target          string              `json:"target,omitempty" yaml:"target,omitempty"`
	Reference       string              `json:"reference,omitempty" yaml:"reference,omitempty"`
	FixID           string              `json:"fixId" yaml:"fixId"`
	IntroducedID    string              `json:"introducedId,omitempty" yaml:"introducedId,omitempty"`
	Introduced      *SearchReport       `json:"introduced,omitempty" yaml:"introduced,omitempty"`
	Fix             *SearchReport       `json:"fix" yaml:"fix"`
	FixAdvice       string              `json:"fixAdvice,omitempty" yaml:"fixAdvice,omitempty"`
	Dependencies    *DependencyDocument `json:"dependencyAnalysis,omitempty" yaml:"dependencyAnalysis,omitempty"`
	Recommendations []string            `json:"recommendations" yaml:"recommendations"`
	StartedAt       time.Time           `json:"startedAt" yaml:"startedAt"`
	DurationMS      int64               `json:"durationMs" yaml:"durationMs"`
}

// FromOutcome builds the document for a search outcome. A nil outcome
// yields nil.
func FromOutcome(o *types.SearchOutcome) *SearchReport {
	if o == nil {
		return nil
	}
	r := &SearchReport{
		SourceID:   o.SourceID,
		Found:      o.Found(),
		Status:     string(o.Status),
		Confidence: o.Confidence(),
		Candidates: make([]Candidate, 0, len(o.Candidates)),
		Stages:     make([]Stage, 0, len(o.Stages)),
		DurationMS: o.Duration.Milliseconds(),
		CacheHit:   o.CacheHit,
	}
	if o.Found() {
		r.Strategy = string(o.Match.Strategy)
		r.TargetCommit = o.Match.TargetID
	}
	for _, c := range o.Candidates {
		r.Candidates = append(r.Candidates, Candidate{
			TargetCommit: c.TargetID,
			Strategy:     string(c.Strategy),
			Confidence:   c.Confidence,
			Details:      c.Details,
		})
	}
	for _, s := range o.Stages {
		r.Stages = append(r.Stages, Stage{
			Stage:          string(s.Stage),
			Candidates:     s.Candidates,
			Unknown:        s.Unknown,
			BestConfidence: s.BestConfidence,
			Accepted:       s.Accepted,
			Skipped:        s.Skipped,
			Error:          s.Error,
			DurationMS:     s.Duration.Milliseconds(),
		})
	}
	return r
}

// FromDependencies builds the document for a dependency report
func FromDependencies(d *types.DependencyReport) *DependencyDocument {
	if d == nil {
		return nil
	}
	doc := &DependencyDocument{
		FixID:           d.FixID,
		MergeOrder:      nonNil(d.Plan.Order),
		Complete:        d.Plan.Complete,
		Unresolved:      nonNil(d.Plan.Unresolved),
		DependencyGraph: d.Graph,
		Edges:           d.Edges,
		Dependencies:    make([]Dependency, 0, len(d.Dependencies)),
		NeedToMerge:     nonNil(d.NeedToMerge),
		AlreadyMerged:   nonNil(d.AlreadyMerged),
	}
	if doc.DependencyGraph == nil {
		doc.DependencyGraph = map[string][]string{}
	}
	if doc.Edges == nil {
		doc.Edges = []types.DependencyEdge{}
	}
	for _, f := range d.Dependencies {
		dep := Dependency{
			CommitID: f.CommitID,
			Subject:  f.Subject,
			Strength: f.Strength,
			Merged:   f.Merged,
			Unknown:  f.Unknown,
			Error:    f.Error,
			Relation: f.Relation,
			Advice:   f.Advice,
		}
		if f.Outcome.Found() {
			dep.TargetCommit = f.Outcome.TargetID()
			dep.Strategy = string(f.Outcome.Match.Strategy)
			dep.Confidence = f.Outcome.Confidence()
		}
		doc.Dependencies = append(doc.Dependencies, dep)
	}
	return doc
}

// FromAnalysis builds the document for a full analysis
func FromAnalysis(a *types.Analysis) *AnalysisDocument {
	if a == nil {
		return nil
	}
	return &AnalysisDocument{
		RunID:           a.RunID,
		Target:          a.Target,
		Reference:       a.Reference,
		FixID:           a.FixID,
		IntroducedID:    a.IntroducedID,
		Introduced:      FromOutcome(a.Introduced),
		Fix:             FromOutcome(a.Fix),
		FixAdvice:       a.FixAdvice,
		Dependencies:    FromDependencies(a.Dependencies),
		Recommendations: nonNil(a.Recommendations),
		StartedAt:       a.StartedAt,
		DurationMS:      a.Duration.Milliseconds(),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}
