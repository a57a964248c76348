// Package report renders search outcomes, dependency plans and fix analyses
// as JSON, YAML or Markdown. The From* functions flatten the domain types
// into documents with stable field names; Render and WriteFiles encode them.
package report
