package embedding

import (
	"context"

	"secure-rag-go/pkg/errs"

	"golang.org/x/sync/errgroup"
)

// EmbedBatch embeds texts in windows of maxConcurrency. Calls inside a window
// run concurrently; a window starts only after the previous one finished, so
// at most maxConcurrency calls are in flight. Results keep input order. Any
// failure cancels the rest of the window and fails the whole batch.
func EmbedBatch(ctx context.Context, p Provider, texts []string, maxConcurrency int) ([]*Embedding, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	results := make([]*Embedding, len(texts))

	for start := 0; start < len(texts); start += maxConcurrency {
		end := start + maxConcurrency
		if end > len(texts) {
			end = len(texts)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				e, err := p.Embed(gctx, texts[i])
				if err != nil {
					return err
				}
				results[i] = e
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if errs.KindOf(err) == nil {
				err = errs.Provider("embedding.EmbedBatch", err)
			}
			return nil, err
		}
	}
	return results, nil
}
