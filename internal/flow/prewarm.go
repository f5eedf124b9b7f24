package flow

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// prewarmConcurrency bounds parallel synthesis during pre-warming so a large
// flow does not hammer the synthesis provider at startup.
const prewarmConcurrency = 4

// Prewarm materializes the prompt of every node reachable from the root so
// the first caller never waits on synthesis. It is an optional startup
// action: failures are logged per prompt and do not abort the remaining
// nodes, and the engine works identically without it.
func Prewarm(ctx context.Context, g *Graph, assets AssetProvider, logger *slog.Logger) error {
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(prewarmConcurrency)

	count := 0
	err := g.Walk(func(n *Node) error {
		if n.Prompt == "" {
			return nil
		}
		count++
		text, language := n.Prompt, n.PromptLanguage()
		nodeID := n.ID
		grp.Go(func() error {
			if _, err := assets.EnsureReady(ctx, text, language); err != nil {
				logger.Warn("prewarm: failed to materialize prompt",
					"node_id", nodeID, "language", language, "error", err)
			}
			return nil
		})
		// Stop scheduling once the context is gone.
		return ctx.Err()
	})
	if werr := grp.Wait(); err == nil {
		err = werr
	}

	logger.Info("prewarm complete", "prompts", count)
	return err
}
