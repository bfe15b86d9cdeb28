package textclass

import (
	"slices"
)

// Contribution is an influence of a single token on the decision.
// Positive score pushes toward illicit, negative toward safe.
type Contribution struct {
	Token string  `json:"token"`
	Score float64 `json:"score"`
}

// ExplainOption configures Explain
type ExplainOption func(*explainConfig)

type explainConfig struct {
	dedup bool
}

// WithDedup makes Explain report each distinct token once instead of once per occurrence
func WithDedup() ExplainOption {
	return func(c *explainConfig) { c.dedup = true }
}

// Explain returns contributions of all known tokens of the text, sorted by score descending.
// Each occurrence of a token gets its own entry unless WithDedup is set. Unknown tokens are omitted,
// empty result means no known tokens found.
func (m *Model) Explain(text string, opts ...ExplainOption) []Contribution {
	cfg := explainConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	res := []Contribution{}
	seen := map[int]bool{}
	for token := range m.tokenizer.Tokens(text) {
		idx, ok := m.vocab.Index(token)
		if !ok {
			continue
		}
		if cfg.dedup {
			if seen[idx] {
				continue
			}
			seen[idx] = true
		}
		res = append(res, Contribution{Token: token, Score: m.contribution(idx)})
	}
	sortContributions(res)
	return res
}

// ExplainVector returns contributions for a count vector, one entry per counted occurrence.
// Entries with equal scores keep vocabulary order.
func (m *Model) ExplainVector(vec []int, opts ...ExplainOption) ([]Contribution, error) {
	if err := m.checkDimension(vec); err != nil {
		return nil, err
	}
	cfg := explainConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	res := []Contribution{}
	for idx, n := range vec {
		if cfg.dedup && n > 0 {
			n = 1
		}
		for range n {
			res = append(res, Contribution{Token: m.vocab.Token(idx), Score: m.contribution(idx)})
		}
	}
	sortContributions(res)
	return res, nil
}

// Contribution returns the score of a single token and false if the token is unknown
func (m *Model) Contribution(token string) (float64, bool) {
	idx, ok := m.vocab.Index(token)
	if !ok {
		return 0, false
	}
	return m.contribution(idx), true
}

func (m *Model) contribution(idx int) float64 {
	return m.featureLogProb[LabelIllicit][idx] - m.featureLogProb[LabelSafe][idx]
}

func sortContributions(cc []Contribution) {
	slices.SortStableFunc(cc, func(a, b Contribution) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
}
