// Package index provides the RepositoryIndex contract and its implementations.
//
// A RepositoryIndex answers four read-only questions about one commit history:
// find a commit by id prefix, search by message keywords, search by touched
// files, and fetch a diff. Absent results are reported as ErrNotFound;
// collaborator failures wrap ErrUnavailable so callers can tell a negative
// answer from a broken repository.
//
// # Implementations
//
// GitIndex runs the git CLI against a local repository. Every command carries
// a timeout and a capped output buffer:
//
//	g, err := index.NewGitIndex(ctx, index.GitOptions{
//	    Path:    "/src/linux-stable",
//	    Branch:  "linux-5.10.y",
//	    Timeout: 30 * time.Second,
//	})
//
// CachedIndex layers a SQLite commit store (and an in-memory diff LRU) in
// front of an upstream index. Misses fall through to the upstream and the
// answers are written back:
//
//	cached, err := index.NewCachedIndex(index.CacheOptions{
//	    Repo:     "5.10",
//	    Store:    store,
//	    Upstream: g,
//	})
//	res, err := cached.Warm(ctx, index.WarmOptions{MaxCommits: 10000, WithDiffs: true})
//
// # Optional capabilities
//
// TimeWindowSearcher and Lister are discovered with type assertions. Both
// implementations support them; test doubles may not.
package index
