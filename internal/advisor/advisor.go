package advisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/dshills/backport-mcp/pkg/types"
)

// Provider names
const (
	ProviderAuto   = "auto"
	ProviderOpenAI = "openai"
	ProviderRule   = "rule"
)

// Common errors
var (
	ErrUnknownProvider = errors.New("unknown advisor provider")
	ErrMissingAPIKey   = errors.New("advisor api key is required")
	ErrMissingCommit   = errors.New("commit is required")
)

// Relation grades how strongly one patch depends on another
type Relation string

const (
	RelationStrong  Relation = "strong"
	RelationMedium  Relation = "medium"
	RelationWeak    Relation = "weak"
	RelationUnknown Relation = "unknown"
)

// PatchRequest asks for an analysis of one fix
type PatchRequest struct {
	Reference string // e.g. a vulnerability identifier
	Commit    *types.CommitRecord
}

// DependencyRequest asks whether Dependency is a prerequisite of Fix
type DependencyRequest struct {
	Reference  string
	Fix        *types.CommitRecord
	Dependency *types.CommitRecord
}

// PatchAdvice is the analysis of one fix
type PatchAdvice struct {
	Provider  string   `json:"provider"`
	Summary   string   `json:"summary"`
	Subsystem string   `json:"subsystem"`
	Files     []string `json:"files"`
	Added     int      `json:"added"`
	Deleted   int      `json:"deleted"`
	Degraded  bool     `json:"degraded,omitempty"` // The live provider failed and rule-based advice was substituted
}

// DependencyAdvice is the analysis of one fix/prerequisite pair
type DependencyAdvice struct {
	Provider    string   `json:"provider"`
	Relation    Relation `json:"relation"`
	Reason      string   `json:"reason"`
	Summary     string   `json:"summary"`
	SharedFiles []string `json:"sharedFiles,omitempty"`
	Degraded    bool     `json:"degraded,omitempty"`
}

// Advisor produces human-readable notes about fixes and their prerequisites.
// The live and rule-based implementations are chosen at construction time.
type Advisor interface {
	AnalyzePatch(ctx context.Context, req PatchRequest) (*PatchAdvice, error)
	AnalyzeDependency(ctx context.Context, req DependencyRequest) (*DependencyAdvice, error)

	// Provider returns the provider name
	Provider() string

	// Close releases any resources held by the advisor
	Close() error
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func validatePatch(req PatchRequest) error {
	if req.Commit == nil {
		return ErrMissingCommit
	}
	return nil
}

func validateDependency(req DependencyRequest) error {
	if req.Fix == nil || req.Dependency == nil {
		return ErrMissingCommit
	}
	return nil
}
