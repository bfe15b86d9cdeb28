// Package webapi provides a web API for drug trafficking detection: message checks, sample management,
// retraining and evaluation.
package webapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/drugwatch/app/storage"
	"github.com/umputun/drugwatch/app/training"
	"github.com/umputun/drugwatch/lib"
	"github.com/umputun/drugwatch/lib/textclass"
	"github.com/umputun/drugwatch/lib/verdict"
)

// Server is a web API server.
type Server struct {
	Config
	retrainLock sync.Mutex
}

// Config defines server parameters
type Config struct {
	Version     string          // version to show in /ping
	ListenAddr  string          // listen address
	Detector    Detector        // drug trafficking detector
	Samples     SamplesStore    // labeled samples storage
	Detections  DetectionsStore // storage of check results, optional
	Models      ModelsStore     // storage of trained models, optional
	TrainParams training.Params // parameters of retraining, including model file and db saver
	AuthPasswd  string          // basic auth password for user "drugwatch", no auth if empty
	RateLimit   float64         // max requests per second per client, default 50
}

// Detector is a detector interface.
type Detector interface {
	Check(req verdict.Request) (verdict.Response, error)
	ModelInfo() (lib.ModelInfo, error)
	Reload(m *textclass.Model) uint64
}

// SamplesStore is a storage of labeled samples.
type SamplesStore interface {
	Add(ctx context.Context, label textclass.Label, o storage.SampleOrigin, message string) error
	Delete(ctx context.Context, id int64) error
	Read(ctx context.Context, o storage.SampleOrigin) ([]storage.Sample, error)
	Examples(ctx context.Context, o storage.SampleOrigin) ([]textclass.Example, error)
	Stats(ctx context.Context) (*storage.SamplesStats, error)
}

// DetectionsStore is a storage of check results.
type DetectionsStore interface {
	Write(ctx context.Context, req verdict.Request, resp verdict.Response) error
	Read(ctx context.Context, limit int) ([]storage.Detection, error)
}

// ModelsStore is a storage of trained models.
type ModelsStore interface {
	List(ctx context.Context, limit int) ([]storage.ModelInfo, error)
}

const authUser = "drugwatch"

// NewServer creates a new web API server.
func NewServer(config Config) *Server {
	if config.RateLimit <= 0 {
		config.RateLimit = 50
	}
	return &Server{Config: config}
}

// Run starts server and accepts requests checking messages.
func (s *Server) Run(ctx context.Context) error {
	if s.AuthPasswd != "" {
		log.Printf("[INFO] basic auth enabled for webapi server")
	} else {
		log.Printf("[WARN] basic auth disabled, access to webapi is not protected")
	}

	srv := &http.Server{Addr: s.ListenAddr, Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout: 5 * time.Second, WriteTimeout: 60 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown webapi server: %v", err)
		} else {
			log.Printf("[INFO] webapi server stopped")
		}
	}()

	log.Printf("[INFO] start webapi server on %s", s.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run server: %w", err)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	lmt := tollbooth.NewLimiter(s.RateLimit, nil)
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})

	router := routegroup.New(http.NewServeMux())
	router.Use(rest.Recoverer(lgr.Default()))
	router.Use(rest.AppInfo("drugwatch", "umputun", s.Version), rest.Ping)
	router.Use(tollbooth.HTTPMiddleware(lmt))
	router.Use(rest.SizeLimit(1024 * 1024)) // 1M max request size

	router.Group().Route(func(api *routegroup.Bundle) {
		if s.AuthPasswd != "" {
			api.Use(rest.BasicAuthWithUserPasswd(authUser, s.AuthPasswd))
		}
		api.HandleFunc("POST /check", s.checkHandler)                 // check a message
		api.HandleFunc("GET /model", s.modelHandler)                  // current model info
		api.HandleFunc("GET /models", s.modelsHandler)                // stored models, newest first
		api.HandleFunc("GET /samples", s.samplesHandler)              // list samples
		api.HandleFunc("POST /samples", s.addSampleHandler)           // add a user sample
		api.HandleFunc("DELETE /samples/{id}", s.deleteSampleHandler) // delete a sample
		api.HandleFunc("GET /samples/stats", s.statsHandler)          // samples statistics
		api.HandleFunc("POST /retrain", s.retrainHandler)             // train a new model on stored samples and load it
		api.HandleFunc("GET /evaluate", s.evaluateHandler)            // evaluate on stored samples without changing the model
		api.HandleFunc("GET /history", s.historyHandler)              // recent check results
	})
	return router
}

// checkHandler handles POST /check request.
// it gets message text from request body and returns the verdict with explanation.
func (s *Server) checkHandler(w http.ResponseWriter, r *http.Request) {
	req := verdict.Request{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, http.StatusBadRequest, "can't decode request", err)
		return
	}
	if strings.TrimSpace(req.Msg) == "" {
		renderError(w, http.StatusBadRequest, "message is required", nil)
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	resp, err := s.Detector.Check(req)
	if err != nil {
		renderError(w, statusFor(err), "can't check message", err)
		return
	}
	if s.Detections != nil && !req.CheckOnly {
		if err := s.Detections.Write(r.Context(), req, resp); err != nil {
			log.Printf("[WARN] can't save detection: %v", err)
		}
	}
	rest.RenderJSON(w, resp)
}

// modelHandler handles GET /model request
func (s *Server) modelHandler(w http.ResponseWriter, _ *http.Request) {
	info, err := s.Detector.ModelInfo()
	if err != nil {
		renderError(w, statusFor(err), "can't get model info", err)
		return
	}
	rest.RenderJSON(w, info)
}

// addSampleHandler handles POST /samples request, stores a labeled user sample.
// The model is not changed until retrain.
func (s *Server) addSampleHandler(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Msg   string           `json:"msg"`
		Label *textclass.Label `json:"label"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, http.StatusBadRequest, "can't decode request", err)
		return
	}
	if strings.TrimSpace(req.Msg) == "" || req.Label == nil {
		renderError(w, http.StatusBadRequest, "msg and label are required", nil)
		return
	}
	if err := req.Label.Validate(); err != nil {
		renderError(w, http.StatusBadRequest, "invalid label", err)
		return
	}
	if err := s.Samples.Add(r.Context(), *req.Label, storage.SampleOriginUser, req.Msg); err != nil {
		renderError(w, http.StatusInternalServerError, "can't add sample", err)
		return
	}
	rest.RenderJSON(w, rest.JSON{"added": true, "msg": req.Msg, "label": *req.Label})
}

// samplesHandler handles GET /samples?origin=user request, origin is any if not set
func (s *Server) samplesHandler(w http.ResponseWriter, r *http.Request) {
	origin := storage.SampleOriginAny
	if v := r.URL.Query().Get("origin"); v != "" {
		origin = storage.SampleOrigin(v)
	}
	if err := origin.Validate(); err != nil {
		renderError(w, http.StatusBadRequest, "invalid origin", err)
		return
	}
	res, err := s.Samples.Read(r.Context(), origin)
	if err != nil {
		renderError(w, http.StatusInternalServerError, "can't read samples", err)
		return
	}
	rest.RenderJSON(w, res)
}

// deleteSampleHandler handles DELETE /samples/{id} request.
// The model is not changed until retrain.
func (s *Server) deleteSampleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		renderError(w, http.StatusBadRequest, "invalid sample id", err)
		return
	}
	if err := s.Samples.Delete(r.Context(), id); err != nil {
		renderError(w, statusFor(err), "can't delete sample", err)
		return
	}
	rest.RenderJSON(w, rest.JSON{"deleted": true, "id": id})
}

// statsHandler handles GET /samples/stats request
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Samples.Stats(r.Context())
	if err != nil {
		renderError(w, http.StatusInternalServerError, "can't get samples stats", err)
		return
	}
	rest.RenderJSON(w, stats)
}

// retrainHandler handles POST /retrain request. It trains a model on all stored samples,
// saves it and makes the detector use it. Only one retrain runs at a time.
func (s *Server) retrainHandler(w http.ResponseWriter, r *http.Request) {
	if !s.retrainLock.TryLock() {
		renderError(w, http.StatusConflict, "retrain is already in progress", nil)
		return
	}
	defer s.retrainLock.Unlock()

	examples, err := s.Samples.Examples(r.Context(), storage.SampleOriginAny)
	if err != nil {
		renderError(w, http.StatusInternalServerError, "can't get samples", err)
		return
	}
	res, err := training.Run(r.Context(), examples, s.TrainParams)
	if err != nil {
		renderError(w, statusFor(err), "can't train model", err)
		return
	}
	gen := s.Detector.Reload(res.Model)
	rest.RenderJSON(w, rest.JSON{
		"generation":    gen,
		"model_id":      res.ModelID,
		"vocabulary":    res.Model.Vocabulary().Size(),
		"examples":      len(examples),
		"report":        res.Report,
		"misclassified": len(res.Misclassified),
		"duration":      res.Duration.String(),
	})
}

// evaluateHandler handles GET /evaluate?ratio=0.2&seed=42 request.
// It evaluates the training procedure on stored samples, the current model is not affected.
func (s *Server) evaluateHandler(w http.ResponseWriter, r *http.Request) {
	cfg := textclass.EvalConfig{TestRatio: textclass.DefaultTestRatio, Seed: textclass.DefaultSeed,
		Options: s.TrainParams.Options()}
	if v := r.URL.Query().Get("ratio"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil || ratio <= 0 || ratio >= 1 {
			renderError(w, http.StatusBadRequest, "ratio must be a number in (0,1)", err)
			return
		}
		cfg.TestRatio = ratio
	}
	if v := r.URL.Query().Get("seed"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			renderError(w, http.StatusBadRequest, "invalid seed", err)
			return
		}
		cfg.Seed = seed
	}

	examples, err := s.Samples.Examples(r.Context(), storage.SampleOriginAny)
	if err != nil {
		renderError(w, http.StatusInternalServerError, "can't get samples", err)
		return
	}
	rep, _, err := textclass.Evaluate(examples, cfg)
	if err != nil {
		renderError(w, statusFor(err), "can't evaluate", err)
		return
	}
	rest.RenderJSON(w, rest.JSON{"ratio": cfg.TestRatio, "seed": cfg.Seed, "report": rep,
		"macro_avg": rep.MacroAvg(), "weighted_avg": rep.WeightedAvg()})
}

// modelsHandler handles GET /models?limit=N request, returns stored models without states, newest first
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, 10)
	if !ok {
		return
	}
	if s.Models == nil {
		rest.RenderJSON(w, []storage.ModelInfo{})
		return
	}
	res, err := s.Models.List(r.Context(), limit)
	if err != nil {
		renderError(w, http.StatusInternalServerError, "can't list models", err)
		return
	}
	rest.RenderJSON(w, res)
}

// historyHandler handles GET /history?limit=N request. Returns stored detections, newest first,
// or in-memory history of the detector if detections are not stored.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, 100)
	if !ok {
		return
	}

	if s.Detections == nil {
		hd, ok := s.Detector.(interface{ History(n int) []verdict.Response })
		if !ok {
			rest.RenderJSON(w, []verdict.Response{})
			return
		}
		rest.RenderJSON(w, hd.History(limit))
		return
	}

	res, err := s.Detections.Read(r.Context(), limit)
	if err != nil {
		renderError(w, http.StatusInternalServerError, "can't read history", err)
		return
	}
	rest.RenderJSON(w, res)
}

// limitParam gets positive limit query parameter, renders bad request and returns false if invalid
func limitParam(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	l, err := strconv.Atoi(v)
	if err != nil || l <= 0 {
		renderError(w, http.StatusBadRequest, "limit must be a positive number", err)
		return 0, false
	}
	return l, true
}

func renderError(w http.ResponseWriter, code int, msg string, err error) {
	w.WriteHeader(code)
	if err == nil {
		rest.RenderJSON(w, rest.JSON{"error": msg})
		return
	}
	log.Printf("[WARN] %s: %v", msg, err)
	rest.RenderJSON(w, rest.JSON{"error": msg, "details": err.Error()})
}

// statusFor maps domain errors to http status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, lib.ErrNoModel):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, textclass.ErrInsufficientData), errors.Is(err, textclass.ErrEmptyVocabulary):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// GenerateRandomPassword generates a random password of a given length
func GenerateRandomPassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()_+"

	var password strings.Builder
	charsetSize := big.NewInt(int64(len(charset)))
	for range length {
		randomNumber, err := rand.Int(rand.Reader, charsetSize)
		if err != nil {
			return "", err
		}
		password.WriteByte(charset[randomNumber.Int64()])
	}
	return password.String(), nil
}
