package report

import (
	"fmt"
	"io"
	"strings"
)

// Markdown writes a human-readable report for doc
func Markdown(w io.Writer, doc any) error {
	var b strings.Builder
	switch d := doc.(type) {
	case *SearchReport:
		b.WriteString("# Commit Search\n\n")
		writeSearch(&b, d)
	case *DependencyDocument:
		b.WriteString("# Dependency Plan\n\n")
		writeDependencies(&b, d)
	case *AnalysisDocument:
		writeAnalysis(&b, d)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedDocument, doc)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeAnalysis(b *strings.Builder, d *AnalysisDocument) {
	title := "Fix Analysis"
	if d.Reference != "" {
		title += ": " + d.Reference
	}
	fmt.Fprintf(b, "# %s\n\n", title)
	fmt.Fprintf(b, "- Run: `%s`\n", d.RunID)
	if d.Target != "" {
		fmt.Fprintf(b, "- Target: %s\n", d.Target)
	}
	fmt.Fprintf(b, "- Fix: `%s`\n", d.FixID)
	if d.IntroducedID != "" {
		fmt.Fprintf(b, "- Introduced by: `%s`\n", d.IntroducedID)
	}
	fmt.Fprintf(b, "- Started: %s\n", d.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(b, "- Duration: %dms\n\n", d.DurationMS)

	if d.Introduced != nil {
		b.WriteString("## Introducing Commit\n\n")
		writeSearch(b, d.Introduced)
	}
	if d.Fix != nil {
		b.WriteString("## Fix Commit\n\n")
		writeSearch(b, d.Fix)
	}
	if d.FixAdvice != "" {
		b.WriteString("## Patch Analysis\n\n")
		b.WriteString(strings.TrimSpace(d.FixAdvice))
		b.WriteString("\n\n")
	}
	if d.Dependencies != nil {
		b.WriteString("## Dependencies\n\n")
		writeDependencies(b, d.Dependencies)
	}

	b.WriteString("## Recommendations\n\n")
	if len(d.Recommendations) == 0 {
		b.WriteString("None.\n")
	}
	for i, r := range d.Recommendations {
		fmt.Fprintf(b, "%d. %s\n", i+1, r)
	}
}

func writeSearch(b *strings.Builder, r *SearchReport) {
	if r.Found {
		fmt.Fprintf(b, "**Found** `%s` via %s (confidence %s)\n\n", r.TargetCommit, r.Strategy, percent(r.Confidence))
	} else {
		fmt.Fprintf(b, "**%s** for `%s`\n\n", statusLabel(r.Status), r.SourceID)
	}

	if len(r.Stages) > 0 {
		b.WriteString("| Stage | Candidates | Unknown | Best | Result |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, s := range r.Stages {
			fmt.Fprintf(b, "| %s | %d | %d | %s | %s |\n",
				s.Stage, s.Candidates, s.Unknown, percent(s.BestConfidence), stageResult(s))
		}
		b.WriteString("\n")
	}

	if len(r.Candidates) > 0 {
		b.WriteString("Candidates:\n\n")
		for _, c := range r.Candidates {
			fmt.Fprintf(b, "- `%s` %s (%s)\n", c.TargetCommit, percent(c.Confidence), c.Strategy)
		}
		b.WriteString("\n")
	}
}

func writeDependencies(b *strings.Builder, d *DependencyDocument) {
	if len(d.MergeOrder) > 0 {
		b.WriteString("Merge order:\n\n")
		for i, id := range d.MergeOrder {
			fmt.Fprintf(b, "%d. `%s`\n", i+1, id)
		}
		b.WriteString("\n")
	}
	if !d.Complete {
		fmt.Fprintf(b, "**Incomplete plan.** Unresolved (cycle): %s\n\n", codeList(d.Unresolved))
	}

	if len(d.Dependencies) > 0 {
		b.WriteString("| Commit | Subject | Strength | Relation | Merged | Target |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, dep := range d.Dependencies {
			merged := "no"
			switch {
			case dep.Unknown:
				merged = "unknown"
			case dep.Merged:
				merged = "yes"
			}
			target := "-"
			if dep.TargetCommit != "" {
				target = fmt.Sprintf("`%s` %s", short(dep.TargetCommit), percent(dep.Confidence))
			}
			fmt.Fprintf(b, "| `%s` | %s | %.2f | %s | %s | %s |\n",
				short(dep.CommitID), escapeCell(dep.Subject), dep.Strength, orDash(dep.Relation), merged, target)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("No prerequisites found.\n\n")
	}

	fmt.Fprintf(b, "Need to merge: %s\n\n", codeList(d.NeedToMerge))
	fmt.Fprintf(b, "Already merged: %s\n\n", codeList(d.AlreadyMerged))
}

func stageResult(s Stage) string {
	switch {
	case s.Skipped:
		return "skipped"
	case s.Error != "":
		return "error: " + escapeCell(s.Error)
	case s.Accepted:
		return "accepted"
	default:
		return "rejected"
	}
}

func statusLabel(status string) string {
	switch status {
	case "not_found":
		return "Not found"
	case "infrastructure_error":
		return "Infrastructure error"
	default:
		return status
	}
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func codeList(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "`" + short(id) + "`"
	}
	return strings.Join(quoted, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
