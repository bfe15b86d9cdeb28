package textclass

import (
	"fmt"
	"iter"
)

// Vocabulary maps tokens to contiguous indices. Indices are assigned in first-seen order and never change,
// vocabulary has no mutating methods once built.
type Vocabulary struct {
	index  map[string]int
	tokens []string
}

// BuildVocabulary makes a vocabulary from all tokens of the given texts, in order.
// The same texts in the same order always produce the same mapping.
func BuildVocabulary(tok Tokenizer, texts []string) *Vocabulary {
	b := newVocabularyBuilder()
	for _, text := range texts {
		b.add(tok.Tokens(text))
	}
	return b.vocab
}

// Index returns index of the token and true if token is known
func (v *Vocabulary) Index(token string) (int, bool) {
	if v == nil {
		return 0, false
	}
	idx, ok := v.index[token]
	return idx, ok
}

// Token returns token by its index, empty string if index is out of range
func (v *Vocabulary) Token(idx int) string {
	if v == nil || idx < 0 || idx >= len(v.tokens) {
		return ""
	}
	return v.tokens[idx]
}

// Size returns number of tokens in the vocabulary
func (v *Vocabulary) Size() int {
	if v == nil {
		return 0
	}
	return len(v.tokens)
}

// Tokens returns a copy of all tokens ordered by index
func (v *Vocabulary) Tokens() []string {
	if v == nil {
		return []string{}
	}
	res := make([]string, len(v.tokens))
	copy(res, v.tokens)
	return res
}

// vocabularyFromTokens restores vocabulary from tokens ordered by index
func vocabularyFromTokens(tokens []string) (*Vocabulary, error) {
	b := newVocabularyBuilder()
	for i, token := range tokens {
		if token == "" {
			return nil, fmt.Errorf("empty token at index %d", i)
		}
		if _, ok := b.vocab.index[token]; ok {
			return nil, fmt.Errorf("duplicate token %q at index %d", token, i)
		}
		b.addToken(token)
	}
	return b.vocab, nil
}

type vocabularyBuilder struct {
	vocab *Vocabulary
}

func newVocabularyBuilder() *vocabularyBuilder {
	return &vocabularyBuilder{vocab: &Vocabulary{index: map[string]int{}, tokens: []string{}}}
}

func (b *vocabularyBuilder) add(tokens iter.Seq[string]) {
	for token := range tokens {
		b.addToken(token)
	}
}

func (b *vocabularyBuilder) addToken(token string) {
	if _, ok := b.vocab.index[token]; ok {
		return
	}
	b.vocab.index[token] = len(b.vocab.tokens)
	b.vocab.tokens = append(b.vocab.tokens, token)
}
