package textclass

import (
	"math"
)

// Prediction is a result of classification
type Prediction struct {
	Label      Label      `json:"label"`
	Confidence float64    `json:"confidence"` // probability of the predicted label, in percent
	LogScores  [2]float64 `json:"-"`          // joint log-likelihood per class, can be -Inf
}

// Illicit returns true if the predicted label is LabelIllicit
func (p Prediction) Illicit() bool { return p.Label == LabelIllicit }

// Predict classifies text. Unknown tokens are ignored, text without known tokens is classified by priors alone.
func (m *Model) Predict(text string) Prediction {
	return m.predict(m.Vectorize(text))
}

// PredictVector classifies a count vector, returns ErrDimensionMismatch if the vector
// doesn't match the vocabulary size
func (m *Model) PredictVector(vec []int) (Prediction, error) {
	if err := m.checkDimension(vec); err != nil {
		return Prediction{}, err
	}
	return m.predict(vec), nil
}

func (m *Model) predict(vec []int) Prediction {
	var scores [2]float64
	for c := range labels {
		scores[c] = m.logPriors[c]
		if math.IsInf(scores[c], -1) {
			continue // class never seen, nothing to add
		}
		for i, n := range vec {
			if n != 0 {
				scores[c] += float64(n) * m.featureLogProb[c][i]
			}
		}
	}

	label := LabelSafe
	if scores[LabelIllicit] > scores[LabelSafe] {
		label = LabelIllicit
	}
	probs := softmax(scores)
	return Prediction{Label: label, Confidence: 100 * probs[label], LogScores: scores}
}

// softmax converts log-scores to probabilities, subtracting the max score to avoid overflow
func softmax(scores [2]float64) [2]float64 {
	maxScore := math.Max(scores[0], scores[1])
	if math.IsInf(maxScore, -1) {
		return [2]float64{0.5, 0.5}
	}
	var res [2]float64
	sum := 0.0
	for i, s := range scores {
		res[i] = math.Exp(s - maxScore) // exp(-Inf) is 0
		sum += res[i]
	}
	for i := range res {
		res[i] /= sum
	}
	return res
}
