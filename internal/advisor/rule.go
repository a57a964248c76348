package advisor

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dshills/backport-mcp/internal/diffparse"
)

// Top-level source directories and the subsystem they belong to
var subsystems = map[string]string{
	"net":      "networking",
	"fs":       "filesystem",
	"drivers":  "drivers",
	"mm":       "memory management",
	"kernel":   "core kernel",
	"arch":     "architecture support",
	"include":  "headers",
	"sound":    "sound",
	"security": "security",
	"block":    "block layer",
	"crypto":   "crypto",
}

// RuleAdvisor derives advice from diff statistics and file paths alone.
// It needs no configuration and never fails on well-formed requests.
type RuleAdvisor struct{}

// NewRuleAdvisor creates a RuleAdvisor
func NewRuleAdvisor() *RuleAdvisor {
	return &RuleAdvisor{}
}

func (r *RuleAdvisor) AnalyzePatch(ctx context.Context, req PatchRequest) (*PatchAdvice, error) {
	if err := validatePatch(req); err != nil {
		return nil, err
	}

	patch := diffparse.Parse(req.Commit.DiffText)
	files := req.Commit.Files()
	subsystem := Subsystem(files)

	var b strings.Builder
	fmt.Fprintf(&b, "Patch %s", req.Commit.ShortID(12))
	if req.Reference != "" {
		fmt.Fprintf(&b, " (%s)", req.Reference)
	}
	fmt.Fprintf(&b, ": %d line(s) added, %d removed across %d file(s) in %s.\n",
		patch.Added, patch.Deleted, len(files), subsystem)
	if len(patch.Functions) > 0 {
		fmt.Fprintf(&b, "Touches: %s.\n", strings.Join(patch.Functions, ", "))
	}
	b.WriteString("Before backporting: verify in a test environment, check for prerequisite patches, ")
	b.WriteString("and confirm that the modified functions exist in the target version.")

	return &PatchAdvice{
		Provider:  ProviderRule,
		Summary:   b.String(),
		Subsystem: subsystem,
		Files:     files,
		Added:     patch.Added,
		Deleted:   patch.Deleted,
	}, nil
}

func (r *RuleAdvisor) AnalyzeDependency(ctx context.Context, req DependencyRequest) (*DependencyAdvice, error) {
	if err := validateDependency(req); err != nil {
		return nil, err
	}

	relation, reason, shared := Relate(req.Fix.Files(), req.Dependency.Files())

	var b strings.Builder
	fmt.Fprintf(&b, "Dependency %s of fix %s: %s relation. %s\n",
		req.Dependency.ShortID(12), req.Fix.ShortID(12), relation, reason)
	switch relation {
	case RelationStrong:
		b.WriteString("Apply the dependency before the fix.")
	case RelationMedium:
		b.WriteString("Check the fix for compatibility with the dependency's changes.")
	case RelationWeak:
		b.WriteString("There is probably no direct dependency.")
	default:
		b.WriteString("Inspect both patches manually.")
	}

	return &DependencyAdvice{
		Provider:    ProviderRule,
		Relation:    relation,
		Reason:      reason,
		Summary:     b.String(),
		SharedFiles: shared,
	}, nil
}

func (r *RuleAdvisor) Provider() string { return ProviderRule }

func (r *RuleAdvisor) Close() error { return nil }

// Subsystem guesses the subsystem of a change from the first file whose
// top-level directory is known
func Subsystem(files []string) string {
	for _, f := range files {
		top, _, _ := strings.Cut(strings.TrimPrefix(f, "/"), "/")
		if name, ok := subsystems[top]; ok {
			return name
		}
	}
	return "unknown"
}

// Relate grades the relation of two file sets: shared files are strong,
// a shared top-level directory is medium, anything else is weak. Either
// side empty is unknown.
func Relate(fixFiles, depFiles []string) (Relation, string, []string) {
	if len(fixFiles) == 0 || len(depFiles) == 0 {
		return RelationUnknown, "the files of one patch are unknown", nil
	}

	var shared []string
	for _, f := range fixFiles {
		if slices.Contains(depFiles, f) {
			shared = append(shared, f)
		}
	}
	if len(shared) > 0 {
		slices.Sort(shared)
		shown := shared
		if len(shown) > 3 {
			shown = shown[:3]
		}
		return RelationStrong, "both patches modify " + strings.Join(shown, ", "), shared
	}

	fixDirs := make(map[string]struct{}, len(fixFiles))
	for _, f := range fixFiles {
		top, _, _ := strings.Cut(f, "/")
		fixDirs[top] = struct{}{}
	}
	for _, f := range depFiles {
		top, _, _ := strings.Cut(f, "/")
		if _, ok := fixDirs[top]; ok {
			return RelationMedium, "both patches touch the " + top + "/ tree", nil
		}
	}
	return RelationWeak, "the patches touch different subsystems", nil
}
