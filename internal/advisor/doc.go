// Package advisor produces explanatory notes for fixes and their
// prerequisites.
//
// Two providers exist. The rule-based provider derives its advice from diff
// statistics and file paths and needs no configuration. The openai provider
// sends a truncated diff to a chat-completion model, rate limited and
// retried with exponential backoff; when a call still fails it returns the
// rule-based advice with Degraded set, so analysis never stops on an
// unreachable model.
//
// Advice is informational. Nothing in dependency planning or commit search
// depends on it.
//
//	adv, err := advisor.New(advisor.Config{Provider: "auto", APIKey: key})
//	if err != nil {
//	    return err
//	}
//	defer adv.Close()
//
//	advice, err := adv.AnalyzePatch(ctx, advisor.PatchRequest{
//	    Reference: "CVE-2024-26633",
//	    Commit:    fix,
//	})
package advisor
