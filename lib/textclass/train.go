package textclass

import (
	"context"
	"fmt"
	"log"
	"math"
)

// Example is a labeled training text
type Example struct {
	Text  string `json:"text"`
	Label Label  `json:"label"`
}

// Option configures Fit
type Option func(*fitConfig)

type fitConfig struct {
	alpha     float64
	tokenizer Tokenizer
	workers   int
}

// WithAlpha sets smoothing constant, must be positive. Default is DefaultAlpha.
func WithAlpha(alpha float64) Option {
	return func(c *fitConfig) { c.alpha = alpha }
}

// WithTokenizer sets tokenizer used for training, the model keeps it for inference
func WithTokenizer(tok Tokenizer) Option {
	return func(c *fitConfig) { c.tokenizer = tok }
}

// WithWorkers sets the number of concurrent vectorization workers
func WithWorkers(n int) Option {
	return func(c *fitConfig) { c.workers = n }
}

// Fit builds a vocabulary from examples and trains a model on them.
// Returns ErrInsufficientData for empty input and ErrEmptyVocabulary if no text has a single token.
// Training on a single class succeeds, but the model is degenerate, see Model.Degenerate.
func Fit(examples []Example, opts ...Option) (*Model, error) {
	cfg := fitConfig{alpha: DefaultAlpha}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.alpha <= 0 || math.IsNaN(cfg.alpha) || math.IsInf(cfg.alpha, 0) {
		return nil, fmt.Errorf("alpha must be positive, got %v", cfg.alpha)
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("can't fit on empty training set: %w", ErrInsufficientData)
	}

	texts := make([]string, len(examples))
	lbls := make([]Label, len(examples))
	for i, ex := range examples {
		if err := ex.Label.Validate(); err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		texts[i], lbls[i] = ex.Text, ex.Label
	}

	vocab := BuildVocabulary(cfg.tokenizer, texts)
	if vocab.Size() == 0 {
		return nil, fmt.Errorf("no tokens in %d examples: %w", len(examples), ErrEmptyVocabulary)
	}

	vectors, err := VectorizeAll(context.Background(), cfg.tokenizer, texts, vocab, cfg.workers)
	if err != nil {
		return nil, fmt.Errorf("failed to vectorize examples: %w", err)
	}

	m := estimate(vectors, lbls, vocab, cfg)
	if m.Degenerate() {
		log.Printf("[WARN] training set has only one class (safe: %d, illicit: %d), model has no discriminative power",
			m.classCounts[LabelSafe], m.classCounts[LabelIllicit])
	}
	log.Printf("[DEBUG] model trained, examples: %d, vocabulary: %d, priors: %.4f/%.4f",
		len(examples), vocab.Size(), m.priors[LabelSafe], m.priors[LabelIllicit])
	return m, nil
}

// estimate computes priors and smoothed log-probabilities from count vectors in a single pass
func estimate(vectors [][]int, lbls []Label, vocab *Vocabulary, cfg fitConfig) *Model {
	size := vocab.Size()
	m := &Model{vocab: vocab, tokenizer: cfg.tokenizer, alpha: cfg.alpha}

	var counts [2][]int64
	var totals [2]int64
	for c := range labels {
		counts[c] = make([]int64, size)
	}
	for i, vec := range vectors {
		c := lbls[i]
		m.classCounts[c]++
		for j, n := range vec {
			counts[c][j] += int64(n)
			totals[c] += int64(n)
		}
	}

	for c := range labels {
		m.priors[c] = float64(m.classCounts[c]) / float64(len(vectors))
		m.logPriors[c] = math.Log(m.priors[c]) // -Inf for a missing class, it never wins

		denom := float64(totals[c]) + cfg.alpha*float64(size)
		m.featureLogProb[c] = make([]float64, size)
		for i := range size {
			m.featureLogProb[c][i] = math.Log((float64(counts[c][i]) + cfg.alpha) / denom)
		}
	}
	return m
}
