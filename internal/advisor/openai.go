package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAI provider defaults
const (
	DefaultModel             = openai.GPT4
	DefaultMaxTokens         = 2000
	DefaultTemperature       = 0.3
	DefaultRequestsPerMinute = 30
	DefaultCacheSize         = 1000

	maxPatchDiffChars      = 3000
	maxDependencyDiffChars = 2000
)

const systemPrompt = "You are a Linux kernel security expert who analyzes patches and their dependencies for backporting to stable branches."

// OpenAIConfig configures the chat-completion advisor
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string // Empty for api.openai.com
	Model             string
	MaxTokens         int
	Temperature       float32
	RequestsPerMinute int
	CacheSize         int
	Retry             RetryConfig
	Logger            *slog.Logger
}

// OpenAIAdvisor asks a chat-completion model for patch and dependency
// analysis. Failed calls degrade to rule-based advice instead of erroring.
type OpenAIAdvisor struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	limiter     *rate.Limiter
	retry       RetryConfig
	cache       *lru.Cache[string, string]
	rules       *RuleAdvisor
	logger      *slog.Logger
}

// NewOpenAIAdvisor creates an OpenAIAdvisor. Zero config fields take their
// defaults.
func NewOpenAIAdvisor(cfg OpenAIConfig) (*OpenAIAdvisor, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create advice cache: %w", err)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIAdvisor{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		retry:       cfg.Retry,
		cache:       cache,
		rules:       NewRuleAdvisor(),
		logger:      cfg.Logger.With("component", "advisor", "provider", ProviderOpenAI),
	}, nil
}

func (a *OpenAIAdvisor) AnalyzePatch(ctx context.Context, req PatchRequest) (*PatchAdvice, error) {
	base, err := a.rules.AnalyzePatch(ctx, req)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("Analyze this security patch")
	if req.Reference != "" {
		fmt.Fprintf(&b, " for %s", req.Reference)
	}
	fmt.Fprintf(&b, ".\n\nCommit: %s\nSubject: %s\n\n", req.Commit.ID, req.Commit.Subject)
	fmt.Fprintf(&b, "Diff:\n%s\n\n", truncate(req.Commit.DiffText, maxPatchDiffChars))
	b.WriteString("Provide:\n")
	b.WriteString("1. The main issue being fixed\n")
	b.WriteString("2. The key code changes\n")
	b.WriteString("3. The potential impact\n")
	b.WriteString("4. Cautions for backporting to older kernels\n")

	summary, err := a.complete(ctx, b.String())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("patch analysis failed, using rule-based advice",
			"commit", req.Commit.ShortID(12), "error", err)
		base.Degraded = true
		return base, nil
	}

	base.Provider = ProviderOpenAI
	base.Summary = summary
	return base, nil
}

func (a *OpenAIAdvisor) AnalyzeDependency(ctx context.Context, req DependencyRequest) (*DependencyAdvice, error) {
	base, err := a.rules.AnalyzeDependency(ctx, req)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("Analyze the dependency between these two patches")
	if req.Reference != "" {
		fmt.Fprintf(&b, " (fix for %s)", req.Reference)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Fix commit %s: %s\nDiff:\n%s\n\n",
		req.Fix.ID, req.Fix.Subject, truncate(req.Fix.DiffText, maxDependencyDiffChars))
	fmt.Fprintf(&b, "Candidate prerequisite %s: %s\nDiff:\n%s\n\n",
		req.Dependency.ID, req.Dependency.Subject, truncate(req.Dependency.DiffText, maxDependencyDiffChars))
	b.WriteString("Answer:\n")
	b.WriteString("1. Is the prerequisite required for the fix to apply or work?\n")
	b.WriteString("2. What does the fix rely on from it?\n")
	b.WriteString("3. Can the fix be backported without it?\n")

	summary, err := a.complete(ctx, b.String())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("dependency analysis failed, using rule-based advice",
			"fix", req.Fix.ShortID(12), "dependency", req.Dependency.ShortID(12), "error", err)
		base.Degraded = true
		return base, nil
	}

	base.Provider = ProviderOpenAI
	base.Summary = summary
	return base, nil
}

// complete runs one rate-limited, retried chat completion. Answers are
// cached by prompt.
func (a *OpenAIAdvisor) complete(ctx context.Context, prompt string) (string, error) {
	key := ComputeHash(a.model + "\x00" + prompt)
	if cached, ok := a.cache.Get(key); ok {
		return cached, nil
	}

	request := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}

	answer, err := retryWithBackoff(ctx, a.retry, retryableAPIError, func() (string, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", err
		}
		resp, err := a.client.CreateChatCompletion(ctx, request)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("completion returned no choices")
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	})
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", errors.New("completion returned empty content")
	}

	a.cache.Add(key, answer)
	return answer, nil
}

func (a *OpenAIAdvisor) Provider() string { return ProviderOpenAI }

func (a *OpenAIAdvisor) Close() error {
	a.cache.Purge()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}
