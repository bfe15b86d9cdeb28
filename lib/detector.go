package lib

import (
	"cmp"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"

	"github.com/umputun/drugwatch/lib/textclass"
	"github.com/umputun/drugwatch/lib/verdict"
)

// ErrNoModel is returned by Check if no model was loaded
var ErrNoModel = errors.New("no model loaded")

const (
	defaultTopTriggers = 3
	defaultCacheTTL    = 10 * time.Minute
)

// Detector is a drug trafficking detector, thread-safe.
type Detector struct {
	Config
	model      *textclass.Model
	generation uint64
	cache      cache.Cache[string, verdict.Response] // nil if disabled
	history    *verdict.History
	lock       sync.RWMutex
}

// Config is a set of parameters for Detector.
type Config struct {
	MinProbability float64       // minimal confidence (percent) to flag illicit message, 0 - any illicit
	TopTriggers    int           // number of triggers to report, default 3
	CacheSize      int           // max number of cached verdicts, 0 - no cache
	CacheTTL       time.Duration // ttl of cached verdicts
	HistorySize    int           // number of recent verdicts to keep
	Dedup          bool          // report each distinct token once in triggers and explanation
}

// ModelInfo is a summary of the loaded model
type ModelInfo struct {
	Generation  uint64     `json:"generation"`
	Vocabulary  int        `json:"vocabulary"`
	Priors      [2]float64 `json:"priors"`
	ClassCounts [2]int     `json:"class_counts"`
	Alpha       float64    `json:"alpha"`
	Degenerate  bool       `json:"degenerate"`
}

// NewDetector makes a new Detector with the given config.
func NewDetector(p Config) *Detector {
	if p.TopTriggers <= 0 {
		p.TopTriggers = defaultTopTriggers
	}
	if p.CacheTTL <= 0 {
		p.CacheTTL = defaultCacheTTL
	}
	res := &Detector{Config: p, history: verdict.NewHistory(p.HistorySize)}
	if p.CacheSize > 0 {
		res.cache = cache.NewCache[string, verdict.Response]().WithMaxKeys(p.CacheSize).WithTTL(p.CacheTTL)
	}
	return res
}

// Reload replaces the model used for checks and returns the new model generation.
// Cached verdicts of the previous model are never used again.
func (d *Detector) Reload(m *textclass.Model) (generation uint64) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.model = m
	d.generation++
	if d.cache != nil {
		d.cache.Purge()
	}
	if m != nil {
		if m.Degenerate() {
			log.Printf("[WARN] loaded model has a single class, priors: %v", m.Priors())
		}
		log.Printf("[INFO] model generation %d loaded, vocabulary: %d tokens", d.generation, m.Vocabulary().Size())
	}
	return d.generation
}

// Model returns current model and its generation, model is nil if not loaded
func (d *Detector) Model() (*textclass.Model, uint64) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.model, d.generation
}

// ModelInfo returns summary of the current model
func (d *Detector) ModelInfo() (ModelInfo, error) {
	m, gen := d.Model()
	if m == nil {
		return ModelInfo{}, ErrNoModel
	}
	return ModelInfo{
		Generation:  gen,
		Vocabulary:  m.Vocabulary().Size(),
		Priors:      m.Priors(),
		ClassCounts: m.ClassCounts(),
		Alpha:       m.Alpha(),
		Degenerate:  m.Degenerate(),
	}, nil
}

// Check classifies a message. Returns ErrNoModel if no model loaded.
func (d *Detector) Check(req verdict.Request) (verdict.Response, error) {
	m, gen := d.Model()
	if m == nil {
		return verdict.Response{}, ErrNoModel
	}

	key := fmt.Sprintf("%d:%s", gen, req.Msg)
	if d.cache != nil {
		if resp, ok := d.cache.Get(key); ok {
			d.record(req, resp)
			return resp, nil
		}
	}

	resp := d.check(m, gen, req.Msg)
	if d.cache != nil {
		d.cache.Set(key, resp, d.CacheTTL)
	}
	d.record(req, resp)
	return resp, nil
}

// History returns up to n recent verdicts, oldest first
func (d *Detector) History(n int) []verdict.Response {
	return d.history.Last(n)
}

func (d *Detector) check(m *textclass.Model, gen uint64, msg string) verdict.Response {
	var opts []textclass.ExplainOption
	if d.Dedup {
		opts = append(opts, textclass.WithDedup())
	}
	p := m.Predict(msg)
	explanation := m.Explain(msg, opts...)

	resp := verdict.Response{
		Msg:         msg,
		Label:       p.Label,
		Illicit:     p.Illicit(),
		Flagged:     p.Illicit() && p.Confidence >= d.MinProbability,
		Confidence:  p.Confidence,
		Triggers:    triggers(explanation, p.Illicit(), d.TopTriggers),
		Explanation: explanation,
		Generation:  gen,
	}
	log.Printf("[DEBUG] check result for %q: %s", msg, resp.String())
	return resp
}

func (d *Detector) record(req verdict.Request, resp verdict.Response) {
	if req.CheckOnly {
		return
	}
	d.history.Push(resp)
}

// triggers picks up to n strongest tokens supporting the decision from a sorted explanation, strongest first.
// For illicit it's the head of positive scores, for safe it's the tail of negative scores in ascending order.
func triggers(explanation []textclass.Contribution, illicit bool, n int) []textclass.Contribution {
	res := []textclass.Contribution{}
	if illicit {
		for _, c := range explanation {
			if c.Score <= 0 || len(res) == n {
				break
			}
			res = append(res, c)
		}
		return res
	}

	negative := []textclass.Contribution{}
	for _, c := range explanation {
		if c.Score < 0 {
			negative = append(negative, c)
		}
	}
	if len(negative) > n {
		negative = negative[len(negative)-n:]
	}
	slices.SortStableFunc(negative, func(a, b textclass.Contribution) int { return cmp.Compare(a.Score, b.Score) })
	return append(res, negative...)
}
