package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/backport-mcp/internal/advisor"
	"github.com/dshills/backport-mcp/internal/analyzer"
	"github.com/dshills/backport-mcp/internal/matcher"
	"github.com/dshills/backport-mcp/internal/metrics"
	"github.com/dshills/backport-mcp/internal/searcher"
)

// MatcherConfig converts the matching section
func (c *Config) MatcherConfig() matcher.Config {
	return matcher.Config{
		IDPrefixLength:      c.Matching.IDPrefixLength,
		SubjectThreshold:    c.Matching.SubjectThreshold,
		AutoAcceptThreshold: c.Matching.AutoAcceptThreshold,
		FileFilterThreshold: c.Matching.FileFilterThreshold,
		DiffThreshold:       c.Matching.DiffThreshold,
	}
}

// SearcherOptions converts the matching, search and performance sections
func (c *Config) SearcherOptions(logger *slog.Logger, rec *metrics.Recorder) searcher.Options {
	return searcher.Options{
		Matcher:           matcher.New(c.MatcherConfig()),
		KeywordLimit:      c.Search.KeywordLimit,
		FileLimit:         c.Search.FileLimit,
		TimeWindowLimit:   c.Search.TimeWindowLimit,
		MaxKeywords:       c.Search.MaxKeywords,
		MaxCandidates:     c.Matching.MaxCandidates,
		SubjectAccept:     c.Search.SubjectAccept,
		FileDiffAccept:    c.Search.FileDiffAccept,
		TimeWindow:        time.Duration(c.Search.TimeWindowDays) * 24 * time.Hour,
		DisableTimeWindow: c.Search.DisableTimeWindow,
		DiffConcurrency:   c.Performance.MaxWorkers,
		CacheSize:         c.Search.CacheSize,
		CacheTTL:          c.Search.CacheTTL,
		Logger:            logger,
		Metrics:           rec,
	}
}

// AnalyzerConfig converts the dependency and performance sections
func (c *Config) AnalyzerConfig(logger *slog.Logger) analyzer.Config {
	return analyzer.Config{
		Workers:             c.Performance.MaxWorkers,
		DependencyThreshold: c.Dependency.Threshold,
		StrongThreshold:     c.Dependency.StrongThreshold,
		MergedThreshold:     c.Dependency.MergedThreshold,
		MaxPrerequisites:    c.Dependency.MaxPrerequisites,
		DiscoverLimit:       c.Search.FileLimit,
		Logger:              logger,
	}
}

// AdvisorConfig converts the advisor section
func (c *Config) AdvisorConfig(logger *slog.Logger) advisor.Config {
	return advisor.Config{
		Provider:          c.Advisor.Provider,
		APIKey:            c.Advisor.APIKey,
		BaseURL:           c.Advisor.BaseURL,
		Model:             c.Advisor.Model,
		MaxTokens:         c.Advisor.MaxTokens,
		Temperature:       c.Advisor.Temperature,
		RequestsPerMinute: c.Advisor.RequestsPerMinute,
		CacheSize:         c.Advisor.CacheSize,
		Logger:            logger,
	}
}

// CacheExpiry returns the cutoff before which cached commits are expired
func (c *Config) CacheExpiry(now time.Time) time.Time {
	return now.Add(-time.Duration(c.Cache.ExpiryDays) * 24 * time.Hour)
}

// ParseLevel parses a log level name
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// NewLogger builds the process logger from the output section. Logs go to
// stderr unless a log file is configured; stdout is never used. The returned
// closer releases the log file and is a no-op otherwise.
func NewLogger(o OutputConfig) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(o.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if o.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(o.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(o.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(o.LogFormat, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
