package textclass

import (
	"bytes"
	"encoding/json"
	"log"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenario = []Example{
	{Text: "buy pills cheap", Label: LabelIllicit},
	{Text: "great sushi dinner", Label: LabelSafe},
	{Text: "need pills now", Label: LabelIllicit},
	{Text: "nice sunny park", Label: LabelSafe},
}

func TestFit(t *testing.T) {
	m, err := Fit(scenario)
	require.NoError(t, err)

	assert.Equal(t, 11, m.Vocabulary().Size())
	assert.Equal(t, [2]float64{0.5, 0.5}, m.Priors())
	assert.Equal(t, [2]int{2, 2}, m.ClassCounts())
	assert.Equal(t, DefaultAlpha, m.Alpha())
	assert.False(t, m.Degenerate())

	// 6 tokens per class, 11 in vocabulary
	idx, ok := m.Vocabulary().Index("pills")
	require.True(t, ok)
	assert.InDelta(t, math.Log(3.0/17), m.FeatureLogProb(LabelIllicit)[idx], 1e-12)
	assert.InDelta(t, math.Log(1.0/17), m.FeatureLogProb(LabelSafe)[idx], 1e-12)
	idx, ok = m.Vocabulary().Index("sushi")
	require.True(t, ok)
	assert.InDelta(t, math.Log(1.0/17), m.FeatureLogProb(LabelIllicit)[idx], 1e-12)
	assert.InDelta(t, math.Log(2.0/17), m.FeatureLogProb(LabelSafe)[idx], 1e-12)

	assert.Nil(t, m.FeatureLogProb(Label(5)))
}

func TestFit_Errors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := Fit(nil)
		assert.ErrorIs(t, err, ErrInsufficientData)
		_, err = Fit([]Example{})
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("no tokens", func(t *testing.T) {
		_, err := Fit([]Example{{Text: "", Label: LabelSafe}, {Text: "?!", Label: LabelIllicit}})
		assert.ErrorIs(t, err, ErrEmptyVocabulary)
	})

	t.Run("bad label", func(t *testing.T) {
		_, err := Fit([]Example{{Text: "hello", Label: 2}})
		assert.ErrorIs(t, err, ErrInvalidLabel)
		assert.ErrorContains(t, err, "example 0")
	})

	t.Run("bad alpha", func(t *testing.T) {
		_, err := Fit(scenario, WithAlpha(0))
		assert.ErrorContains(t, err, "alpha must be positive")
		_, err = Fit(scenario, WithAlpha(math.NaN()))
		assert.Error(t, err)
	})
}

func TestFit_SingleClass(t *testing.T) {
	buf := bytes.Buffer{}
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)

	m, err := Fit([]Example{{Text: "buy pills", Label: LabelIllicit}, {Text: "need weed", Label: LabelIllicit}})
	require.NoError(t, err)
	assert.True(t, m.Degenerate())
	assert.Equal(t, [2]float64{0, 1}, m.Priors())
	assert.Contains(t, buf.String(), "[WARN] training set has only one class")

	p := m.Predict("lovely sushi")
	assert.Equal(t, LabelIllicit, p.Label)
	assert.InDelta(t, 100, p.Confidence, 1e-9)
	assert.True(t, math.IsInf(p.LogScores[LabelSafe], -1))
}

func TestFit_Deterministic(t *testing.T) {
	examples := syntheticExamples(60)
	m1, err := Fit(examples)
	require.NoError(t, err)
	m2, err := Fit(examples, WithWorkers(7))
	require.NoError(t, err)
	assert.Equal(t, m1.State(), m2.State())
}

func TestFit_ProbabilityValidity(t *testing.T) {
	for _, alpha := range []float64{1, 0.5, 2.5} {
		m, err := Fit(syntheticExamples(40), WithAlpha(alpha))
		require.NoError(t, err)
		for _, l := range labels {
			sum := 0.0
			for _, v := range m.FeatureLogProb(l) {
				assert.False(t, math.IsInf(v, 0))
				sum += math.Exp(v)
			}
			assert.InDelta(t, 1.0, sum, 1e-9, "alpha %v, label %s", alpha, l)
		}
		assert.InDelta(t, 1.0, m.Priors()[0]+m.Priors()[1], 1e-12)
	}
}

func TestFit_Tokenizer(t *testing.T) {
	m, err := Fit(scenario, WithTokenizer(Tokenizer{MinLen: 4}))
	require.NoError(t, err)
	assert.Equal(t, Tokenizer{MinLen: 4}, m.Tokenizer())
	_, ok := m.Vocabulary().Index("buy")
	assert.False(t, ok)
	_, ok = m.Vocabulary().Index("pills")
	assert.True(t, ok)
}

func TestModel_Predict(t *testing.T) {
	m, err := Fit(scenario)
	require.NoError(t, err)

	tests := []struct {
		name       string
		text       string
		label      Label
		confidence float64
	}{
		{name: "known illicit", text: "pills available now", label: LabelIllicit, confidence: 100 * 6.0 / 7},
		{name: "known safe", text: "sushi in the park", label: LabelSafe, confidence: 100 * 4.0 / 5},
		{name: "unknown only", text: "xyzzyqwerty", label: LabelSafe, confidence: 50},
		{name: "empty", text: "", label: LabelSafe, confidence: 50},
		{name: "mixed evidence", text: "pills sushi", label: LabelIllicit, confidence: 100 * 3.0 / 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := m.Predict(tt.text)
			assert.Equal(t, tt.label, p.Label)
			assert.Equal(t, tt.label == LabelIllicit, p.Illicit())
			assert.InDelta(t, tt.confidence, p.Confidence, 1e-9)
		})
	}
}

func TestModel_PredictUnknownUsesPriors(t *testing.T) {
	m, err := Fit([]Example{
		{Text: "pills", Label: LabelIllicit},
		{Text: "weed", Label: LabelIllicit},
		{Text: "coke", Label: LabelIllicit},
		{Text: "sushi", Label: LabelSafe},
	})
	require.NoError(t, err)
	p := m.Predict("xyzzyqwerty")
	assert.Equal(t, LabelIllicit, p.Label)
	assert.InDelta(t, 75, p.Confidence, 1e-9)
}

func TestModel_PredictConfidenceBounds(t *testing.T) {
	examples := syntheticExamples(80)
	m, err := Fit(examples)
	require.NoError(t, err)

	texts := []string{"", "xyzzy", "pills pills pills pills pills pills pills pills pills pills pills pills"}
	for _, ex := range examples {
		texts = append(texts, ex.Text, ex.Text+" "+ex.Text+" "+ex.Text)
	}
	for _, text := range texts {
		p := m.Predict(text)
		assert.GreaterOrEqual(t, p.Confidence, 50.0, text)
		assert.LessOrEqual(t, p.Confidence, 100.0, text)
		assert.False(t, math.IsNaN(p.Confidence), text)
	}
}

func TestModel_PredictVector(t *testing.T) {
	m, err := Fit(scenario)
	require.NoError(t, err)

	p, err := m.PredictVector(m.Vectorize("pills available now"))
	require.NoError(t, err)
	assert.Equal(t, m.Predict("pills available now"), p)

	_, err = m.PredictVector([]int{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = m.PredictVector(make([]int, 12))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// huge counts must not overflow softmax
	vec := make([]int, m.Vocabulary().Size())
	idx, _ := m.Vocabulary().Index("pills")
	vec[idx] = 100000
	p, err = m.PredictVector(vec)
	require.NoError(t, err)
	assert.Equal(t, LabelIllicit, p.Label)
	assert.InDelta(t, 100, p.Confidence, 1e-9)
}

func TestModel_Concurrent(t *testing.T) {
	m, err := Fit(scenario)
	require.NoError(t, err)
	expected := m.Predict("pills available now")

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				assert.Equal(t, expected, m.Predict("pills available now"))
				assert.NotEmpty(t, m.Explain("need pills now"))
			}
		}()
	}
	wg.Wait()
}

func TestModel_StateRoundTrip(t *testing.T) {
	m, err := Fit(syntheticExamples(50), WithAlpha(0.7), WithTokenizer(Tokenizer{MinLen: 2}))
	require.NoError(t, err)

	data, err := json.Marshal(m.State())
	require.NoError(t, err)
	var st ModelState
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, m.State(), st)

	restored, err := NewModel(st)
	require.NoError(t, err)
	assert.Equal(t, m.State(), restored.State())
	for _, text := range []string{"pills available now", "great sushi dinner", "xyzzy", ""} {
		assert.Equal(t, m.Predict(text), restored.Predict(text))
		assert.Equal(t, m.Explain(text), restored.Explain(text))
	}
}

func TestNewModel_Validation(t *testing.T) {
	m, err := Fit(scenario)
	require.NoError(t, err)

	tests := []struct {
		name   string
		modify func(st *ModelState)
		err    error
	}{
		{name: "no tokens", modify: func(st *ModelState) { st.Tokens = nil }, err: ErrEmptyVocabulary},
		{name: "duplicate token", modify: func(st *ModelState) { st.Tokens[1] = st.Tokens[0] }, err: ErrInvalidModel},
		{name: "short log-probs", modify: func(st *ModelState) { st.FeatureLogProb[1] = st.FeatureLogProb[1][:3] },
			err: ErrDimensionMismatch},
		{name: "bad priors", modify: func(st *ModelState) { st.Priors = [2]float64{0.7, 0.7} }, err: ErrInvalidModel},
		{name: "negative prior", modify: func(st *ModelState) { st.Priors = [2]float64{-0.5, 1.5} }, err: ErrInvalidModel},
		{name: "zero alpha", modify: func(st *ModelState) { st.Alpha = 0 }, err: ErrInvalidModel},
		{name: "positive log-prob", modify: func(st *ModelState) { st.FeatureLogProb[0][2] = 0.5 }, err: ErrInvalidModel},
		{name: "inf log-prob", modify: func(st *ModelState) { st.FeatureLogProb[0][2] = math.Inf(-1) }, err: ErrInvalidModel},
		{name: "negative class count", modify: func(st *ModelState) { st.ClassCounts = [2]int{-2, 2} }, err: ErrInvalidModel},
		{name: "class counts disagree with priors", modify: func(st *ModelState) { st.ClassCounts = [2]int{3, 1} },
			err: ErrInvalidModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := m.State()
			tt.modify(&st)
			_, err := NewModel(st)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("no class counts recorded", func(t *testing.T) {
		st := m.State()
		st.ClassCounts = [2]int{}
		res, err := NewModel(st)
		require.NoError(t, err)
		assert.Equal(t, [2]int{}, res.ClassCounts())
	})

	t.Run("state is a copy", func(t *testing.T) {
		st := m.State()
		st.FeatureLogProb[0][0] = -100
		st.Tokens[0] = "changed"
		assert.NotEqual(t, -100.0, m.FeatureLogProb(LabelSafe)[0])
		assert.Equal(t, "buy", m.Vocabulary().Token(0))
	})
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "safe", LabelSafe.String())
	assert.Equal(t, "illicit", LabelIllicit.String())
	assert.Equal(t, "label(7)", Label(7).String())
	assert.NoError(t, LabelIllicit.Validate())
	assert.ErrorIs(t, Label(-1).Validate(), ErrInvalidLabel)
}

func TestSoftmax(t *testing.T) {
	tests := []struct {
		scores   [2]float64
		expected [2]float64
	}{
		{scores: [2]float64{0, 0}, expected: [2]float64{0.5, 0.5}},
		{scores: [2]float64{math.Log(1), math.Log(3)}, expected: [2]float64{0.25, 0.75}},
		{scores: [2]float64{-10000, -10001}, expected: [2]float64{1 / (1 + math.Exp(-1)), 1 - 1/(1+math.Exp(-1))}},
		{scores: [2]float64{math.Inf(-1), -5}, expected: [2]float64{0, 1}},
		{scores: [2]float64{math.Inf(-1), math.Inf(-1)}, expected: [2]float64{0.5, 0.5}},
	}
	for _, tt := range tests {
		res := softmax(tt.scores)
		assert.InDelta(t, tt.expected[0], res[0], 1e-12, "%v", tt.scores)
		assert.InDelta(t, tt.expected[1], res[1], 1e-12, "%v", tt.scores)
	}
}
