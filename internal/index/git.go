package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/backport-mcp/internal/metrics"
	"github.com/dshills/backport-mcp/pkg/types"
)

const (
	DefaultGitTimeout     = 30 * time.Second
	DefaultMaxOutputBytes = 64 << 20

	maxStderrBytes = 64 << 10

	// Records are separated by RS, fields by US: id, author, author time, raw message
	recordSep = "\x1e"
	unitSep   = "\x1f"
	logFormat = "--format=%x1e%H%x1f%an%x1f%at%x1f%B"
)

var commitIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{4,64}$`)

// GitOptions configures a GitIndex
type GitOptions struct {
	Path           string // Working tree or bare repository
	Branch         string // Restricts every query to commits reachable from this ref; empty means HEAD
	Timeout        time.Duration
	MaxOutputBytes int
	Logger         *slog.Logger
	Metrics        *metrics.Recorder
}

// GitIndex answers RepositoryIndex queries by running the git CLI against a
// local repository
type GitIndex struct {
	path      string
	branch    string
	timeout   time.Duration
	maxOutput int
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// gitError is a git command that ran and exited unsuccessfully
type gitError struct {
	command  string
	exitCode int
	stderr   string
	err      error
}

func (e *gitError) Error() string {
	return fmt.Sprintf("git %s failed: %v: %s", e.command, e.err, e.stderr)
}

func (e *gitError) Unwrap() []error {
	return []error{ErrUnavailable, e.err}
}

// NewGitIndex validates that opts.Path is a git repository (and that the
// branch resolves, when one is given) and returns an index over it.
func NewGitIndex(ctx context.Context, opts GitOptions) (*GitIndex, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, fmt.Errorf("%w: git executable not found: %w", ErrUnavailable, err)
	}
	info, err := os.Stat(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrUnavailable, opts.Path)
	}
	if strings.HasPrefix(opts.Branch, "-") {
		return nil, fmt.Errorf("invalid branch name %q", opts.Branch)
	}

	g := &GitIndex{
		path:      opts.Path,
		branch:    opts.Branch,
		timeout:   opts.Timeout,
		maxOutput: opts.MaxOutputBytes,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if g.timeout <= 0 {
		g.timeout = DefaultGitTimeout
	}
	if g.maxOutput <= 0 {
		g.maxOutput = DefaultMaxOutputBytes
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}

	if _, err := g.run(ctx, "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}
	if g.branch != "" {
		if _, err := g.run(ctx, "rev-parse", "--verify", "--quiet", g.branch+"^{commit}"); err != nil {
			return nil, fmt.Errorf("branch %q does not resolve: %w", g.branch, err)
		}
	}
	return g, nil
}

// Path returns the repository path
func (g *GitIndex) Path() string { return g.path }

// Branch returns the configured branch, or "" for HEAD
func (g *GitIndex) Branch() string { return g.branch }

// FindByID resolves an id prefix to a commit on the configured branch
func (g *GitIndex) FindByID(ctx context.Context, idPrefix string) (*types.CommitRecord, error) {
	id, err := g.resolve(ctx, idPrefix)
	if err != nil {
		return nil, err
	}

	if g.branch != "" {
		onBranch, err := g.isAncestor(ctx, id, g.branch)
		if err != nil {
			return nil, err
		}
		if !onBranch {
			return nil, ErrNotFound
		}
	}

	out, err := g.run(ctx, "log", "-1", logFormat, id)
	if err != nil {
		return nil, classify(err)
	}
	recs := parseLog(out)
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

// SearchByKeywords returns commits whose message matches any keyword,
// case-insensitively, newest first
func (g *GitIndex) SearchByKeywords(ctx context.Context, keywords []string, limit int) ([]*types.CommitRecord, error) {
	patterns := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			patterns = append(patterns, regexp.QuoteMeta(k))
		}
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	args := g.logArgs(limit,
		"--extended-regexp",
		"--regexp-ignore-case",
		"--grep="+strings.Join(patterns, "|"),
	)
	return g.log(ctx, args)
}

// SearchByFiles returns commits touching any of paths, newest first
func (g *GitIndex) SearchByFiles(ctx context.Context, paths []string, limit int) ([]*types.CommitRecord, error) {
	clean := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			clean = append(clean, p)
		}
	}
	if len(clean) == 0 {
		return nil, nil
	}

	args := g.logArgs(limit)
	args = append(args, "--")
	args = append(args, clean...)
	return g.log(ctx, args)
}

// SearchByTimeWindow returns commits committed between since and until
func (g *GitIndex) SearchByTimeWindow(ctx context.Context, since, until time.Time, limit int) ([]*types.CommitRecord, error) {
	args := g.logArgs(limit,
		"--since="+since.UTC().Format(time.RFC3339),
		"--until="+until.UTC().Format(time.RFC3339),
	)
	return g.log(ctx, args)
}

// Recent returns the newest limit commits of the configured branch
func (g *GitIndex) Recent(ctx context.Context, limit int) ([]*types.CommitRecord, error) {
	return g.log(ctx, g.logArgs(limit))
}

// GetDiff returns the patch introduced by a commit
func (g *GitIndex) GetDiff(ctx context.Context, id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if !commitIDPattern.MatchString(id) {
		return "", ErrNotFound
	}
	out, err := g.run(ctx, "show", "--format=", "--no-color", "--no-ext-diff", "--patch", id+"^{commit}")
	if err != nil {
		return "", classify(err)
	}
	return strings.TrimLeft(string(out), "\n"), nil
}

func (g *GitIndex) resolve(ctx context.Context, idPrefix string) (string, error) {
	idPrefix = strings.ToLower(strings.TrimSpace(idPrefix))
	if !commitIDPattern.MatchString(idPrefix) {
		return "", ErrNotFound
	}
	out, err := g.run(ctx, "rev-parse", "--verify", "--quiet", idPrefix+"^{commit}")
	if err != nil {
		return "", classify(err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", ErrNotFound
	}
	return id, nil
}

func (g *GitIndex) isAncestor(ctx context.Context, id, ref string) (bool, error) {
	_, err := g.run(ctx, "merge-base", "--is-ancestor", id, ref)
	if err == nil {
		return true, nil
	}
	var ge *gitError
	if errors.As(err, &ge) && ge.exitCode == 1 {
		return false, nil
	}
	return false, err
}

func (g *GitIndex) logArgs(limit int, extra ...string) []string {
	args := []string{"log", logFormat}
	if limit > 0 {
		args = append(args, "--max-count="+strconv.Itoa(limit))
	}
	args = append(args, extra...)
	if g.branch != "" {
		args = append(args, g.branch)
	}
	return args
}

func (g *GitIndex) log(ctx context.Context, args []string) ([]*types.CommitRecord, error) {
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseLog(out), nil
}

// run executes git in the repository and records the call
func (g *GitIndex) run(ctx context.Context, args ...string) ([]byte, error) {
	start := time.Now()
	out, err := g.execute(ctx, args...)
	g.metrics.ObserveGit(args[0], time.Since(start), err)
	return out, err
}

func (g *GitIndex) execute(ctx context.Context, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = g.path
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")

	var stdout, stderr bytes.Buffer
	out := &limitedWriter{w: &stdout, limit: g.maxOutput}
	cmd.Stdout = out
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxStderrBytes}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("%w: git %s timed out after %s", ErrUnavailable, args[0], g.timeout)
		}
		ge := &gitError{command: args[0], exitCode: -1, stderr: strings.TrimSpace(stderr.String()), err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			ge.exitCode = exitErr.ExitCode()
		}
		return nil, ge
	}

	if out.truncated {
		g.logger.Warn("git output truncated",
			slog.String("repo", g.path),
			slog.String("command", args[0]),
			slog.Int("limit", g.maxOutput))
	}
	return stdout.Bytes(), nil
}

// classify turns git's "no such commit" failures into ErrNotFound
func classify(err error) error {
	var ge *gitError
	if !errors.As(err, &ge) {
		return err
	}
	if ge.exitCode == 1 && ge.stderr == "" {
		return ErrNotFound
	}
	msg := strings.ToLower(ge.stderr)
	for _, marker := range []string{"unknown revision", "bad object", "bad revision", "ambiguous", "needed a single revision", "invalid object name"} {
		if strings.Contains(msg, marker) {
			return ErrNotFound
		}
	}
	return err
}

// parseLog splits logFormat output into records. Diffs are not included.
func parseLog(out []byte) []*types.CommitRecord {
	var recs []*types.CommitRecord
	for _, raw := range strings.Split(string(out), recordSep) {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		fields := strings.SplitN(raw, unitSep, 4)
		if len(fields) < 4 {
			continue
		}
		id := strings.TrimSpace(fields[0])
		if id == "" {
			continue
		}

		message := strings.TrimSpace(fields[3])
		subject := message
		if i := strings.IndexByte(message, '\n'); i >= 0 {
			subject = message[:i]
		}

		rec := &types.CommitRecord{
			ID:      id,
			Subject: strings.TrimSpace(subject),
			Message: message,
			Author:  strings.TrimSpace(fields[1]),
		}
		if sec, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64); err == nil && sec > 0 {
			rec.Timestamp = time.Unix(sec, 0).UTC()
		}
		recs = append(recs, rec)
	}
	return recs
}

// limitedWriter keeps at most limit bytes and silently discards the rest.
// It reports full writes so the copying goroutine keeps draining the pipe.
type limitedWriter struct {
	w         *bytes.Buffer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		if n > 0 {
			lw.truncated = true
		}
		return n, nil
	}
	if n > remaining {
		p = p[:remaining]
		lw.truncated = true
	}
	written, err := lw.w.Write(p)
	lw.written += written
	if err != nil {
		return written, err
	}
	return n, nil
}
