package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultPath is the configuration file looked up when none is given
const DefaultPath = "backport.yaml"

// Report formats
const (
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatMarkdown = "markdown"
)

// Common errors
var (
	ErrUnknownRepository = errors.New("unknown repository")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// Config represents the main application configuration
type Config struct {
	Repositories map[string]Repository `yaml:"repositories"`
	Cache        CacheConfig           `yaml:"cache"`
	Matching     MatchingConfig        `yaml:"matching"`
	Search       SearchConfig          `yaml:"search"`
	Dependency   DependencyConfig      `yaml:"dependency"`
	Performance  PerformanceConfig     `yaml:"performance"`
	Output       OutputConfig          `yaml:"output"`
	Advisor      AdvisorConfig         `yaml:"advisor"`
}

// Repository names one local git checkout and optionally the branch whose
// history is searched
type Repository struct {
	Path   string `yaml:"path"`
	Branch string `yaml:"branch,omitempty"`
}

// CacheConfig represents the SQLite commit cache configuration
type CacheConfig struct {
	Disabled         bool   `yaml:"disabled" env:"BACKPORT_CACHE_DISABLED"`
	DatabasePath     string `yaml:"database_path" env:"BACKPORT_CACHE_DATABASE_PATH" env-default:"./commit_cache.db"`
	MaxCachedCommits int    `yaml:"max_cached_commits" env:"BACKPORT_CACHE_MAX_CACHED_COMMITS" env-default:"10000"`
	ExpiryDays       int    `yaml:"expiry_days" env:"BACKPORT_CACHE_EXPIRY_DAYS" env-default:"30"`
	DiffCacheSize    int    `yaml:"diff_cache_size" env:"BACKPORT_CACHE_DIFF_CACHE_SIZE" env-default:"512"`
}

// MatchingConfig represents commit matcher thresholds
type MatchingConfig struct {
	IDPrefixLength      int     `yaml:"id_prefix_length" env:"BACKPORT_MATCHING_ID_PREFIX_LENGTH" env-default:"12"`
	SubjectThreshold    float64 `yaml:"subject_threshold" env:"BACKPORT_MATCHING_SUBJECT_THRESHOLD" env-default:"0.85"`
	AutoAcceptThreshold float64 `yaml:"auto_accept_threshold" env:"BACKPORT_MATCHING_AUTO_ACCEPT_THRESHOLD" env-default:"0.95"`
	FileFilterThreshold float64 `yaml:"file_filter_threshold" env:"BACKPORT_MATCHING_FILE_FILTER_THRESHOLD" env-default:"0.30"`
	DiffThreshold       float64 `yaml:"diff_threshold" env:"BACKPORT_MATCHING_DIFF_THRESHOLD" env-default:"0.70"`
	MaxCandidates       int     `yaml:"max_candidates" env:"BACKPORT_MATCHING_MAX_CANDIDATES" env-default:"5"`
}

// SearchConfig represents staged search limits and acceptance thresholds
type SearchConfig struct {
	KeywordLimit      int           `yaml:"keyword_limit" env:"BACKPORT_SEARCH_KEYWORD_LIMIT" env-default:"100"`
	FileLimit         int           `yaml:"file_limit" env:"BACKPORT_SEARCH_FILE_LIMIT" env-default:"200"`
	TimeWindowLimit   int           `yaml:"time_window_limit" env:"BACKPORT_SEARCH_TIME_WINDOW_LIMIT" env-default:"500"`
	MaxKeywords       int           `yaml:"max_keywords" env:"BACKPORT_SEARCH_MAX_KEYWORDS" env-default:"5"`
	SubjectAccept     float64       `yaml:"subject_accept" env:"BACKPORT_SEARCH_SUBJECT_ACCEPT" env-default:"0.85"`
	FileDiffAccept    float64       `yaml:"file_diff_accept" env:"BACKPORT_SEARCH_FILE_DIFF_ACCEPT" env-default:"0.70"`
	TimeWindowDays    int           `yaml:"time_window_days" env:"BACKPORT_SEARCH_TIME_WINDOW_DAYS" env-default:"180"`
	DisableTimeWindow bool          `yaml:"disable_time_window" env:"BACKPORT_SEARCH_DISABLE_TIME_WINDOW"`
	CacheSize         int           `yaml:"cache_size" env:"BACKPORT_SEARCH_CACHE_SIZE" env-default:"1000"`
	CacheTTL          time.Duration `yaml:"cache_ttl" env:"BACKPORT_SEARCH_CACHE_TTL" env-default:"10m"`
}

// DependencyConfig represents dependency planning thresholds
type DependencyConfig struct {
	Threshold        float64 `yaml:"threshold" env:"BACKPORT_DEPENDENCY_THRESHOLD" env-default:"0.30"`
	StrongThreshold  float64 `yaml:"strong_threshold" env:"BACKPORT_DEPENDENCY_STRONG_THRESHOLD" env-default:"0.50"`
	MergedThreshold  float64 `yaml:"merged_threshold" env:"BACKPORT_DEPENDENCY_MERGED_THRESHOLD" env-default:"0.80"`
	MaxPrerequisites int     `yaml:"max_prerequisites" env:"BACKPORT_DEPENDENCY_MAX_PREREQUISITES" env-default:"50"`
}

// PerformanceConfig represents concurrency and timeout limits
type PerformanceConfig struct {
	MaxWorkers        int           `yaml:"max_workers" env:"BACKPORT_PERFORMANCE_MAX_WORKERS" env-default:"4"`
	GitTimeout        time.Duration `yaml:"git_timeout" env:"BACKPORT_PERFORMANCE_GIT_TIMEOUT" env-default:"30s"`
	SearchTimeout     time.Duration `yaml:"search_timeout" env:"BACKPORT_PERFORMANCE_SEARCH_TIMEOUT" env-default:"300s"`
	MaxGitOutputBytes int64         `yaml:"max_git_output_bytes" env:"BACKPORT_PERFORMANCE_MAX_GIT_OUTPUT_BYTES" env-default:"67108864"`
}

// OutputConfig represents report and log output
type OutputConfig struct {
	Dir       string   `yaml:"dir" env:"BACKPORT_OUTPUT_DIR" env-default:"./analysis_results"`
	Formats   []string `yaml:"formats" env:"BACKPORT_OUTPUT_FORMATS" env-default:"json,markdown"`
	LogLevel  string   `yaml:"log_level" env:"BACKPORT_LOG_LEVEL" env-default:"info"`
	LogFormat string   `yaml:"log_format" env:"BACKPORT_LOG_FORMAT" env-default:"text"`
	LogFile   string   `yaml:"log_file,omitempty" env:"BACKPORT_LOG_FILE"`
}

// AdvisorConfig represents the patch advisor configuration
type AdvisorConfig struct {
	Provider          string  `yaml:"provider" env:"BACKPORT_ADVISOR_PROVIDER" env-default:"auto"`
	APIKey            string  `yaml:"api_key,omitempty" env:"BACKPORT_ADVISOR_API_KEY,OPENAI_API_KEY"`
	BaseURL           string  `yaml:"base_url,omitempty" env:"BACKPORT_ADVISOR_BASE_URL,OPENAI_BASE_URL"`
	Model             string  `yaml:"model" env:"BACKPORT_ADVISOR_MODEL" env-default:"gpt-4"`
	MaxTokens         int     `yaml:"max_tokens" env:"BACKPORT_ADVISOR_MAX_TOKENS" env-default:"2000"`
	Temperature       float32 `yaml:"temperature" env:"BACKPORT_ADVISOR_TEMPERATURE" env-default:"0.3"`
	RequestsPerMinute int     `yaml:"requests_per_minute" env:"BACKPORT_ADVISOR_REQUESTS_PER_MINUTE" env-default:"30"`
	CacheSize         int     `yaml:"cache_size" env:"BACKPORT_ADVISOR_CACHE_SIZE" env-default:"1000"`
}

// Default returns the built-in configuration without consulting the
// environment. It matches the env-default tags.
func Default() *Config {
	return &Config{
		Repositories: map[string]Repository{},
		Cache: CacheConfig{
			DatabasePath:     "./commit_cache.db",
			MaxCachedCommits: 10000,
			ExpiryDays:       30,
			DiffCacheSize:    512,
		},
		Matching: MatchingConfig{
			IDPrefixLength:      12,
			SubjectThreshold:    0.85,
			AutoAcceptThreshold: 0.95,
			FileFilterThreshold: 0.30,
			DiffThreshold:       0.70,
			MaxCandidates:       5,
		},
		Search: SearchConfig{
			KeywordLimit:    100,
			FileLimit:       200,
			TimeWindowLimit: 500,
			MaxKeywords:     5,
			SubjectAccept:   0.85,
			FileDiffAccept:  0.70,
			TimeWindowDays:  180,
			CacheSize:       1000,
			CacheTTL:        10 * time.Minute,
		},
		Dependency: DependencyConfig{
			Threshold:        0.30,
			StrongThreshold:  0.50,
			MergedThreshold:  0.80,
			MaxPrerequisites: 50,
		},
		Performance: PerformanceConfig{
			MaxWorkers:        4,
			GitTimeout:        30 * time.Second,
			SearchTimeout:     300 * time.Second,
			MaxGitOutputBytes: 64 << 20,
		},
		Output: OutputConfig{
			Dir:       "./analysis_results",
			Formats:   []string{FormatJSON, FormatMarkdown},
			LogLevel:  "info",
			LogFormat: "text",
		},
		Advisor: AdvisorConfig{
			Provider:          "auto",
			Model:             "gpt-4",
			MaxTokens:         2000,
			Temperature:       0.3,
			RequestsPerMinute: 30,
			CacheSize:         1000,
		},
	}
}

// Load reads the YAML file at path and applies environment overrides and
// defaults. An empty path means DefaultPath. A missing file is not an
// error: the configuration then comes from the environment and defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := &Config{}
	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	case errors.Is(statErr, fs.ErrNotExist):
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from environment: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to stat config %s: %w", path, statErr)
	}

	if cfg.Repositories == nil {
		cfg.Repositories = map[string]Repository{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	names := c.RepositoryNames()
	for _, name := range names {
		if strings.TrimSpace(c.Repositories[name].Path) == "" {
			add("repository %q has no path", name)
		}
	}

	for name, v := range map[string]float64{
		"matching.subject_threshold":     c.Matching.SubjectThreshold,
		"matching.auto_accept_threshold": c.Matching.AutoAcceptThreshold,
		"matching.file_filter_threshold": c.Matching.FileFilterThreshold,
		"matching.diff_threshold":        c.Matching.DiffThreshold,
		"search.subject_accept":          c.Search.SubjectAccept,
		"search.file_diff_accept":        c.Search.FileDiffAccept,
		"dependency.threshold":           c.Dependency.Threshold,
		"dependency.strong_threshold":    c.Dependency.StrongThreshold,
		"dependency.merged_threshold":    c.Dependency.MergedThreshold,
	} {
		if v < 0 || v > 1 {
			add("%s must be within [0, 1], got %v", name, v)
		}
	}

	for name, v := range map[string]int{
		"matching.id_prefix_length":    c.Matching.IDPrefixLength,
		"matching.max_candidates":      c.Matching.MaxCandidates,
		"search.keyword_limit":         c.Search.KeywordLimit,
		"search.file_limit":            c.Search.FileLimit,
		"search.time_window_limit":     c.Search.TimeWindowLimit,
		"search.max_keywords":          c.Search.MaxKeywords,
		"search.time_window_days":      c.Search.TimeWindowDays,
		"search.cache_size":            c.Search.CacheSize,
		"dependency.max_prerequisites": c.Dependency.MaxPrerequisites,
		"performance.max_workers":      c.Performance.MaxWorkers,
		"cache.max_cached_commits":     c.Cache.MaxCachedCommits,
		"cache.expiry_days":            c.Cache.ExpiryDays,
		"cache.diff_cache_size":        c.Cache.DiffCacheSize,
		"advisor.max_tokens":           c.Advisor.MaxTokens,
		"advisor.requests_per_minute":  c.Advisor.RequestsPerMinute,
		"advisor.cache_size":           c.Advisor.CacheSize,
	} {
		if v <= 0 {
			add("%s must be positive, got %d", name, v)
		}
	}
	if c.Performance.MaxGitOutputBytes <= 0 {
		add("performance.max_git_output_bytes must be positive, got %d", c.Performance.MaxGitOutputBytes)
	}
	if c.Performance.GitTimeout <= 0 || c.Performance.SearchTimeout <= 0 || c.Search.CacheTTL <= 0 {
		add("timeouts and cache_ttl must be positive")
	}

	switch strings.ToLower(c.Advisor.Provider) {
	case "", "auto", "openai", "rule":
	default:
		add("unknown advisor provider %q", c.Advisor.Provider)
	}

	for _, f := range c.Output.Formats {
		if !slices.Contains([]string{FormatJSON, FormatYAML, FormatMarkdown}, strings.ToLower(f)) {
			add("unknown report format %q", f)
		}
	}
	if _, err := ParseLevel(c.Output.LogLevel); err != nil {
		add("%v", err)
	}
	switch strings.ToLower(c.Output.LogFormat) {
	case "", "text", "json":
	default:
		add("unknown log format %q", c.Output.LogFormat)
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

// RepositoryNames returns the configured repository names, sorted
func (c *Config) RepositoryNames() []string {
	names := make([]string, 0, len(c.Repositories))
	for name := range c.Repositories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Repository looks a configured repository up by name
func (c *Config) Repository(name string) (Repository, error) {
	repo, ok := c.Repositories[name]
	if !ok {
		return Repository{}, fmt.Errorf("%w: %s", ErrUnknownRepository, name)
	}
	return repo, nil
}
