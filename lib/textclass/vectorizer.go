package textclass

import (
	"context"
	"iter"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Vectorize converts tokens to a count vector over the vocabulary. Unknown tokens are dropped.
// The result always has vocab.Size() elements.
func Vectorize(tokens iter.Seq[string], vocab *Vocabulary) []int {
	vec := make([]int, vocab.Size())
	for token := range tokens {
		if idx, ok := vocab.Index(token); ok {
			vec[idx]++
		}
	}
	return vec
}

// VectorizeAll tokenizes and vectorizes texts concurrently, up to workers at a time (GOMAXPROCS if workers < 1).
// Each vector is computed independently, so the result doesn't depend on the number of workers.
func VectorizeAll(ctx context.Context, tok Tokenizer, texts []string, vocab *Vocabulary, workers int) ([][]int, error) {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	res := make([][]int, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, text := range texts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res[i] = Vectorize(tok.Tokens(text), vocab)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
