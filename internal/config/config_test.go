package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearAdvisorEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"OPENAI_API_KEY", "BACKPORT_ADVISOR_API_KEY", "OPENAI_BASE_URL", "BACKPORT_ADVISOR_BASE_URL"} {
		t.Setenv(name, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backport.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearAdvisorEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	clearAdvisorEnv(t)
	path := writeFile(t, `
repositories:
  mainline:
    path: /src/linux
  "5.10":
    path: /src/stable
    branch: linux-5.10.y
matching:
  subject_threshold: 0.9
search:
  cache_ttl: 2m
  disable_time_window: true
performance:
  git_timeout: 5s
output:
  formats: [yaml]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"5.10", "mainline"}, cfg.RepositoryNames())
	repo, err := cfg.Repository("5.10")
	require.NoError(t, err)
	assert.Equal(t, Repository{Path: "/src/stable", Branch: "linux-5.10.y"}, repo)

	assert.Equal(t, 0.9, cfg.Matching.SubjectThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Search.CacheTTL)
	assert.True(t, cfg.Search.DisableTimeWindow)
	assert.Equal(t, 5*time.Second, cfg.Performance.GitTimeout)
	assert.Equal(t, []string{FormatYAML}, cfg.Output.Formats)

	// Untouched keys keep their defaults
	assert.Equal(t, 0.95, cfg.Matching.AutoAcceptThreshold)
	assert.Equal(t, 10000, cfg.Cache.MaxCachedCommits)
	assert.Equal(t, "gpt-4", cfg.Advisor.Model)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearAdvisorEnv(t)
	t.Setenv("BACKPORT_PERFORMANCE_MAX_WORKERS", "9")
	t.Setenv("BACKPORT_DEPENDENCY_MERGED_THRESHOLD", "0.9")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("BACKPORT_LOG_LEVEL", "debug")

	path := writeFile(t, "performance:\n  max_workers: 2\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Performance.MaxWorkers)
	assert.Equal(t, 0.9, cfg.Dependency.MergedThreshold)
	assert.Equal(t, "sk-test", cfg.Advisor.APIKey)
	assert.Equal(t, "debug", cfg.Output.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	clearAdvisorEnv(t)

	_, err := Load(writeFile(t, "matching:\n  diff_threshold: 1.5\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(writeFile(t, "repositories: [\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"repository without path", func(c *Config) { c.Repositories["x"] = Repository{Branch: "b"} }, `repository "x" has no path`},
		{"negative threshold", func(c *Config) { c.Dependency.Threshold = -0.1 }, "dependency.threshold"},
		{"zero workers", func(c *Config) { c.Performance.MaxWorkers = 0 }, "performance.max_workers"},
		{"zero git output", func(c *Config) { c.Performance.MaxGitOutputBytes = 0 }, "max_git_output_bytes"},
		{"zero timeout", func(c *Config) { c.Performance.GitTimeout = 0 }, "timeouts"},
		{"unknown provider", func(c *Config) { c.Advisor.Provider = "claude" }, "advisor provider"},
		{"unknown format", func(c *Config) { c.Output.Formats = []string{"html"} }, "report format"},
		{"unknown level", func(c *Config) { c.Output.LogLevel = "loud" }, "log level"},
		{"unknown log format", func(c *Config) { c.Output.LogFormat = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRepository_Unknown(t *testing.T) {
	_, err := Default().Repository("nope")
	assert.ErrorIs(t, err, ErrUnknownRepository)
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	clearAdvisorEnv(t)

	var buf bytes.Buffer
	require.NoError(t, WriteDefault(&buf))
	out := buf.String()
	assert.Contains(t, out, "# Local git checkouts by name")
	assert.Contains(t, out, "cache_ttl: 10m0s")

	path := writeFile(t, out)
	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Repositories = map[string]Repository{
		"mainline": {Path: "/path/to/linux"},
		"5.10":     {Path: "/path/to/linux-stable", Branch: "linux-5.10.y"},
	}
	assert.Equal(t, want, cfg)
}

func TestWriteDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backport.yaml")
	require.NoError(t, WriteDefaultFile(path, false))

	err := WriteDefaultFile(path, false)
	assert.ErrorIs(t, err, ErrConfigExists)

	require.NoError(t, WriteDefaultFile(path, true))
}

func TestComponentConversions(t *testing.T) {
	cfg := Default()
	cfg.Search.TimeWindowDays = 2
	logger := slog.Default()

	mc := cfg.MatcherConfig()
	assert.Equal(t, 12, mc.IDPrefixLength)
	assert.Equal(t, 0.30, mc.FileFilterThreshold)

	so := cfg.SearcherOptions(logger, nil)
	assert.Equal(t, 48*time.Hour, so.TimeWindow)
	assert.Equal(t, 5, so.MaxCandidates)
	assert.NotNil(t, so.Matcher)

	ac := cfg.AnalyzerConfig(logger)
	assert.Equal(t, 0.80, ac.MergedThreshold)
	assert.Equal(t, 4, ac.Workers)

	adv := cfg.AdvisorConfig(logger)
	assert.Equal(t, "auto", adv.Provider)
	assert.Equal(t, float32(0.3), adv.Temperature)

	now := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), cfg.CacheExpiry(now))
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "": slog.LevelInfo,
		"warning": slog.LevelWarn, "error": slog.LevelError,
	} {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "backport.log")
	logger, closer, err := NewLogger(OutputConfig{LogLevel: "warn", LogFormat: "json", LogFile: path})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "stage", "exact_id")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"msg":"kept"`)
	assert.Contains(t, lines[0], `"stage":"exact_id"`)
}
