// Package training runs the full training cycle: hold-out evaluation, fitting the final model on all examples
// and saving it to the model file and optionally to the database.
package training

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/umputun/drugwatch/app/storage"
	"github.com/umputun/drugwatch/lib/textclass"
)

// ModelSaver stores trained models with their evaluation reports
type ModelSaver interface {
	Save(ctx context.Context, m *textclass.Model, rep textclass.Report) (int64, error)
}

// Params defines training parameters
type Params struct {
	TestRatio float64    // hold-out share for evaluation, textclass.DefaultTestRatio if 0
	Seed      uint64     // seed of the evaluation split
	Alpha     float64    // smoothing, textclass.DefaultAlpha if 0
	MinLen    int        // minimal token length
	Workers   int        // vectorization workers, 0 - number of CPUs
	ModelFile string     // path to save the final model, skipped if empty
	Saver     ModelSaver // database storage for the final model, skipped if nil
}

// Result is the outcome of a training run
type Result struct {
	Report        textclass.Report    // metrics of the model trained on the split's train part
	Model         *textclass.Model    // final model trained on all examples
	Misclassified []textclass.Example // test examples the evaluated model got wrong
	ModelID       int64               // id of the database record, 0 if not saved
	Duration      time.Duration       // total run time
}

// Options returns fit options for the params
func (p Params) Options() []textclass.Option {
	res := []textclass.Option{textclass.WithTokenizer(textclass.Tokenizer{MinLen: p.MinLen})}
	if p.Alpha > 0 {
		res = append(res, textclass.WithAlpha(p.Alpha))
	}
	if p.Workers > 0 {
		res = append(res, textclass.WithWorkers(p.Workers))
	}
	return res
}

// Run evaluates a model on a stratified split of examples, then fits the final model on all of them
// and saves it. Nothing is saved if any step before saving fails.
func Run(ctx context.Context, examples []textclass.Example, p Params) (Result, error) {
	st := time.Now()
	cfg := textclass.EvalConfig{TestRatio: p.TestRatio, Seed: p.Seed, Options: p.Options()}
	report, evalModel, err := textclass.Evaluate(examples, cfg)
	if err != nil {
		return Result{}, fmt.Errorf("evaluation failed: %w", err)
	}
	log.Printf("[INFO] evaluated on %d examples, accuracy: %.4f", report.TestSize, report.Accuracy)

	_, test, err := textclass.Split(examples, testRatio(p.TestRatio), p.Seed)
	if err != nil {
		return Result{}, fmt.Errorf("failed to split examples: %w", err)
	}
	res := Result{Report: report, Misclassified: textclass.Misclassified(evalModel, test)}

	if err = ctx.Err(); err != nil {
		return Result{}, err
	}
	if res.Model, err = textclass.Fit(examples, p.Options()...); err != nil {
		return Result{}, fmt.Errorf("training failed: %w", err)
	}

	if p.ModelFile != "" {
		if err = storage.SaveModelFile(p.ModelFile, res.Model); err != nil {
			return Result{}, fmt.Errorf("can't save model file: %w", err)
		}
	}
	if p.Saver != nil {
		if res.ModelID, err = p.Saver.Save(ctx, res.Model, report); err != nil {
			return Result{}, fmt.Errorf("can't save model to db: %w", err)
		}
	}
	res.Duration = time.Since(st)
	log.Printf("[INFO] model trained on %d examples, vocabulary: %d, took %v",
		len(examples), res.Model.Vocabulary().Size(), res.Duration)
	return res, nil
}

func testRatio(r float64) float64 {
	if r == 0 {
		return textclass.DefaultTestRatio
	}
	return r
}
