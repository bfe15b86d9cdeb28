// Package textclass implements a two-class multinomial Naive Bayes text classifier with Laplace smoothing.
// It covers tokenization, vocabulary building, bag-of-words vectorization, training, prediction with
// softmax confidence, per-token explanation and evaluation on a stratified hold-out split.
//
// A trained Model is immutable and safe for concurrent use.
package textclass

import (
	"errors"
	"fmt"
	"math"
)

// Label is a class of a message
type Label int

// enum of supported labels
const (
	LabelSafe    Label = 0
	LabelIllicit Label = 1
)

// labels lists all labels in index order
var labels = [2]Label{LabelSafe, LabelIllicit}

// String implements Stringer interface
func (l Label) String() string {
	switch l {
	case LabelSafe:
		return "safe"
	case LabelIllicit:
		return "illicit"
	}
	return fmt.Sprintf("label(%d)", int(l))
}

// Validate checks if the label is one of the supported labels
func (l Label) Validate() error {
	if l != LabelSafe && l != LabelIllicit {
		return fmt.Errorf("%w: %d", ErrInvalidLabel, int(l))
	}
	return nil
}

// errors returned by the package
var (
	ErrInsufficientData  = errors.New("insufficient data")
	ErrEmptyVocabulary   = errors.New("empty vocabulary")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrInvalidLabel      = errors.New("invalid label")
	ErrInvalidModel      = errors.New("invalid model state")
)

// DefaultAlpha is the Laplace smoothing constant
const DefaultAlpha = 1.0

// Model is a trained classifier. It's created by Fit or NewModel and never changes after that.
type Model struct {
	vocab          *Vocabulary
	tokenizer      Tokenizer
	alpha          float64
	priors         [2]float64
	logPriors      [2]float64
	featureLogProb [2][]float64
	classCounts    [2]int
}

// ModelState is a serializable snapshot of the model. All fields survive a json round trip exactly.
type ModelState struct {
	Tokens         []string     `json:"tokens"`           // vocabulary, ordered by index
	Priors         [2]float64   `json:"priors"`           // class priors, safe and illicit
	FeatureLogProb [2][]float64 `json:"feature_log_prob"` // per-class smoothed log-probabilities, len(Tokens) each
	ClassCounts    [2]int       `json:"class_counts"`     // number of training documents per class
	Alpha          float64      `json:"alpha"`            // smoothing constant
	Tokenizer      Tokenizer    `json:"tokenizer"`        // tokenizer settings used for training
}

// NewModel restores a model from the state, validating it
func NewModel(st ModelState) (*Model, error) {
	if len(st.Tokens) == 0 {
		return nil, ErrEmptyVocabulary
	}
	vocab, err := vocabularyFromTokens(st.Tokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	if st.Alpha <= 0 || math.IsNaN(st.Alpha) || math.IsInf(st.Alpha, 0) {
		return nil, fmt.Errorf("%w: alpha %v", ErrInvalidModel, st.Alpha)
	}

	sum := 0.0
	for i, p := range st.Priors {
		if p < 0 || p > 1 || math.IsNaN(p) {
			return nil, fmt.Errorf("%w: prior %d is %v", ErrInvalidModel, i, p)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		return nil, fmt.Errorf("%w: priors sum to %v", ErrInvalidModel, sum)
	}

	// zero counts mean the state has no counts recorded, otherwise they must agree with priors
	total := 0
	for i, n := range st.ClassCounts {
		if n < 0 {
			return nil, fmt.Errorf("%w: class %d count is %d", ErrInvalidModel, i, n)
		}
		total += n
	}
	for i, n := range st.ClassCounts {
		if total > 0 && math.Abs(float64(n)/float64(total)-st.Priors[i]) > 1e-9 {
			return nil, fmt.Errorf("%w: class %d count %d of %d doesn't match prior %v", ErrInvalidModel, i, n, total, st.Priors[i])
		}
	}

	m := &Model{vocab: vocab, tokenizer: st.Tokenizer, alpha: st.Alpha, priors: st.Priors, classCounts: st.ClassCounts}
	for c := range labels {
		flp := st.FeatureLogProb[c]
		if len(flp) != vocab.Size() {
			return nil, fmt.Errorf("%w: class %d has %d log-probabilities, vocabulary has %d tokens",
				ErrDimensionMismatch, c, len(flp), vocab.Size())
		}
		for i, v := range flp {
			if math.IsNaN(v) || math.IsInf(v, 0) || v > 0 {
				return nil, fmt.Errorf("%w: log-probability %v for class %d, token %q", ErrInvalidModel, v, c, vocab.Token(i))
			}
		}
		m.featureLogProb[c] = append([]float64(nil), flp...)
		m.logPriors[c] = math.Log(st.Priors[c])
	}
	return m, nil
}

// State returns a snapshot of the model suitable for persistence
func (m *Model) State() ModelState {
	return ModelState{
		Tokens:         m.vocab.Tokens(),
		Priors:         m.priors,
		FeatureLogProb: [2][]float64{m.FeatureLogProb(LabelSafe), m.FeatureLogProb(LabelIllicit)},
		ClassCounts:    m.classCounts,
		Alpha:          m.alpha,
		Tokenizer:      m.tokenizer,
	}
}

// Vocabulary returns the frozen vocabulary of the model
func (m *Model) Vocabulary() *Vocabulary { return m.vocab }

// Tokenizer returns tokenizer the model was trained with
func (m *Model) Tokenizer() Tokenizer { return m.tokenizer }

// Alpha returns smoothing constant
func (m *Model) Alpha() float64 { return m.alpha }

// Priors returns class priors, indexed by label
func (m *Model) Priors() [2]float64 { return m.priors }

// ClassCounts returns number of training documents per class, indexed by label
func (m *Model) ClassCounts() [2]int { return m.classCounts }

// FeatureLogProb returns a copy of the smoothed token log-probabilities for the class
func (m *Model) FeatureLogProb(l Label) []float64 {
	if l.Validate() != nil {
		return nil
	}
	return append([]float64(nil), m.featureLogProb[l]...)
}

// Degenerate returns true if the model was trained on a single class and can't discriminate
func (m *Model) Degenerate() bool {
	return m.priors[LabelSafe] == 0 || m.priors[LabelIllicit] == 0
}

// Vectorize converts text to a count vector using model's tokenizer and vocabulary
func (m *Model) Vectorize(text string) []int {
	return Vectorize(m.tokenizer.Tokens(text), m.vocab)
}

func (m *Model) checkDimension(vec []int) error {
	if len(vec) != m.vocab.Size() {
		return fmt.Errorf("%w: vector has %d elements, vocabulary has %d tokens", ErrDimensionMismatch, len(vec), m.vocab.Size())
	}
	return nil
}
