package textclass

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
)

// DefaultTestRatio is a share of examples held out for testing
const DefaultTestRatio = 0.2

// DefaultSeed is a seed for the split shuffle
const DefaultSeed = 42

// EvalConfig defines evaluation parameters
type EvalConfig struct {
	TestRatio float64  // share of each class held out for testing, (0,1), DefaultTestRatio if 0
	Seed      uint64   // split seed
	Options   []Option // fit options
}

// ClassReport has metrics for a single class
type ClassReport struct {
	Label     Label   `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"` // number of test examples with this label
}

// Average is an averaged metric over classes
type Average struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report is a result of evaluation on a test set
type Report struct {
	Accuracy  float64        `json:"accuracy"`
	Classes   [2]ClassReport `json:"classes"`
	Confusion [2][2]int      `json:"confusion"` // [actual][predicted]
	TrainSize int            `json:"train_size"`
	TestSize  int            `json:"test_size"`
}

// Split divides examples into train and test sets. Each class is shuffled separately with the seeded rng and
// round(n*testRatio) of its examples go to test, at least one example of each class stays in train.
// Both sets keep the original order of examples. The same input and seed always give the same split.
func Split(examples []Example, testRatio float64, seed uint64) (train, test []Example, err error) {
	if testRatio <= 0 || testRatio >= 1 || math.IsNaN(testRatio) {
		return nil, nil, fmt.Errorf("test ratio must be in (0,1), got %v", testRatio)
	}

	var byClass [2][]int
	for i, ex := range examples {
		if err := ex.Label.Validate(); err != nil {
			return nil, nil, fmt.Errorf("example %d: %w", i, err)
		}
		byClass[ex.Label] = append(byClass[ex.Label], i)
	}

	rnd := rand.New(rand.NewPCG(seed, seed)) //nolint:gosec // deterministic split, not security sensitive
	inTest := make([]bool, len(examples))
	for _, idxs := range byClass {
		if len(idxs) == 0 {
			continue
		}
		rnd.Shuffle(len(idxs), func(i, j int) { idxs[i], idxs[j] = idxs[j], idxs[i] })
		nTest := min(int(math.Round(float64(len(idxs))*testRatio)), len(idxs)-1)
		for _, idx := range idxs[:nTest] {
			inTest[idx] = true
		}
	}

	train, test = []Example{}, []Example{}
	for i, ex := range examples {
		if inTest[i] {
			test = append(test, ex)
			continue
		}
		train = append(train, ex)
	}
	return train, test, nil
}

// Evaluate splits examples, fits a model on the train part only and scores it on the test part.
// Returns the report and the model trained on the train part.
func Evaluate(examples []Example, cfg EvalConfig) (Report, *Model, error) {
	testRatio := cfg.TestRatio
	if testRatio == 0 {
		testRatio = DefaultTestRatio
	}
	train, test, err := Split(examples, testRatio, cfg.Seed)
	if err != nil {
		return Report{}, nil, fmt.Errorf("can't split examples: %w", err)
	}
	if len(test) == 0 {
		return Report{}, nil, fmt.Errorf("no test examples out of %d: %w", len(examples), ErrInsufficientData)
	}

	model, err := Fit(train, cfg.Options...)
	if err != nil {
		return Report{}, nil, fmt.Errorf("can't fit on train set: %w", err)
	}
	rep, err := Score(model, test)
	if err != nil {
		return Report{}, nil, err
	}
	rep.TrainSize = len(train)
	return rep, model, nil
}

// Score evaluates a trained model on labeled examples
func Score(m *Model, examples []Example) (Report, error) {
	if len(examples) == 0 {
		return Report{}, fmt.Errorf("nothing to score: %w", ErrInsufficientData)
	}
	rep := Report{TestSize: len(examples)}
	correct := 0
	for i, ex := range examples {
		if err := ex.Label.Validate(); err != nil {
			return Report{}, fmt.Errorf("example %d: %w", i, err)
		}
		p := m.Predict(ex.Text)
		rep.Confusion[ex.Label][p.Label]++
		if p.Label == ex.Label {
			correct++
		}
	}
	rep.Accuracy = float64(correct) / float64(len(examples))

	for _, l := range labels {
		tp := rep.Confusion[l][l]
		predicted := rep.Confusion[LabelSafe][l] + rep.Confusion[LabelIllicit][l]
		actual := rep.Confusion[l][LabelSafe] + rep.Confusion[l][LabelIllicit]
		cr := ClassReport{Label: l, Support: actual}
		cr.Precision = ratio(tp, predicted)
		cr.Recall = ratio(tp, actual)
		if cr.Precision+cr.Recall > 0 {
			cr.F1 = 2 * cr.Precision * cr.Recall / (cr.Precision + cr.Recall)
		}
		rep.Classes[l] = cr
	}
	return rep, nil
}

// MacroAvg returns unweighted mean of per-class metrics
func (r Report) MacroAvg() Average {
	res := Average{}
	for _, c := range r.Classes {
		res.Precision += c.Precision / float64(len(r.Classes))
		res.Recall += c.Recall / float64(len(r.Classes))
		res.F1 += c.F1 / float64(len(r.Classes))
		res.Support += c.Support
	}
	return res
}

// WeightedAvg returns mean of per-class metrics weighted by support
func (r Report) WeightedAvg() Average {
	res := Average{}
	for _, c := range r.Classes {
		res.Support += c.Support
	}
	if res.Support == 0 {
		return res
	}
	for _, c := range r.Classes {
		w := float64(c.Support) / float64(res.Support)
		res.Precision += c.Precision * w
		res.Recall += c.Recall * w
		res.F1 += c.F1 * w
	}
	return res
}

// Misclassified returns examples the model got wrong, in input order
func Misclassified(m *Model, examples []Example) []Example {
	return slices.DeleteFunc(slices.Clone(examples), func(ex Example) bool {
		return m.Predict(ex.Text).Label == ex.Label
	})
}

// String formats report as a classification table
func (r Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "accuracy: %.4f (train: %d, test: %d)\n\n", r.Accuracy, r.TrainSize, r.TestSize)
	fmt.Fprintf(&sb, "%14s %10s %10s %10s %10s\n", "", "precision", "recall", "f1-score", "support")
	for _, c := range r.Classes {
		fmt.Fprintf(&sb, "%14s %10.2f %10.2f %10.2f %10d\n", c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	sb.WriteString("\n")
	for _, row := range []struct {
		name string
		avg  Average
	}{{"macro avg", r.MacroAvg()}, {"weighted avg", r.WeightedAvg()}} {
		fmt.Fprintf(&sb, "%14s %10.2f %10.2f %10.2f %10d\n", row.name, row.avg.Precision, row.avg.Recall, row.avg.F1, row.avg.Support)
	}
	fmt.Fprintf(&sb, "\nconfusion: safe->safe %d, safe->illicit %d, illicit->safe %d, illicit->illicit %d\n",
		r.Confusion[LabelSafe][LabelSafe], r.Confusion[LabelSafe][LabelIllicit],
		r.Confusion[LabelIllicit][LabelSafe], r.Confusion[LabelIllicit][LabelIllicit])
	return sb.String()
}

func ratio(num, denom int) float64 {
	if denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}
