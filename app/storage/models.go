package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/umputun/drugwatch/app/storage/engine"
	"github.com/umputun/drugwatch/lib/textclass"
)

// Models is a storage for trained model snapshots together with their evaluation metrics
type Models struct {
	*engine.SQL
	engine.RWLocker
}

// ModelInfo is a stored model snapshot without the model state
type ModelInfo struct {
	ID        int64            `db:"id" json:"id"`
	Timestamp time.Time        `db:"timestamp" json:"timestamp"`
	VocabSize int              `db:"vocab_size" json:"vocab_size"`
	Accuracy  float64          `db:"accuracy" json:"accuracy"`
	Report    textclass.Report `db:"-" json:"report"`
}

type modelRow struct {
	ModelInfo
	ReportJSON string `db:"report"`
	StateJSON  string `db:"state"`
}

// models-related command constants
const (
	CmdCreateModelsTable engine.DBCmd = iota + 600
	CmdCreateModelsIndexes
)

var modelsQueries = engine.NewQueryMap().
	Add(CmdCreateModelsTable, engine.Query{
		Sqlite: `CREATE TABLE IF NOT EXISTS models (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            gid TEXT NOT NULL DEFAULT '',
            timestamp DATETIME NOT NULL,
            vocab_size INTEGER NOT NULL,
            accuracy REAL NOT NULL DEFAULT 0,
            report TEXT NOT NULL,
            state TEXT NOT NULL
        )`,
		Postgres: `CREATE TABLE IF NOT EXISTS models (
            id SERIAL PRIMARY KEY,
            gid TEXT NOT NULL DEFAULT '',
            timestamp TIMESTAMP NOT NULL,
            vocab_size INTEGER NOT NULL,
            accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
            report TEXT NOT NULL,
            state TEXT NOT NULL
        )`,
	}).
	AddSame(CmdCreateModelsIndexes, `CREATE INDEX IF NOT EXISTS idx_models_gid_id ON models(gid, id)`)

// NewModels creates a new Models storage
func NewModels(ctx context.Context, db *engine.SQL) (*Models, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	res := &Models{SQL: db, RWLocker: db.MakeLock()}
	cfg := engine.TableConfig{
		Name:          "models",
		CreateTable:   CmdCreateModelsTable,
		CreateIndexes: CmdCreateModelsIndexes,
		QueriesMap:    modelsQueries,
	}
	if err := engine.InitTable(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("failed to init models storage: %w", err)
	}
	return res, nil
}

// Save stores the model with its evaluation report and returns the id of the new record
func (s *Models) Save(ctx context.Context, m *textclass.Model, rep textclass.Report) (int64, error) {
	if m == nil {
		return 0, fmt.Errorf("model is nil")
	}
	state, err := json.Marshal(m.State())
	if err != nil {
		return 0, fmt.Errorf("failed to marshal model state: %w", err)
	}
	report, err := json.Marshal(rep)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal report: %w", err)
	}

	s.Lock()
	defer s.Unlock()

	query := s.Adopt(`INSERT INTO models (gid, timestamp, vocab_size, accuracy, report, state)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)
	var id int64
	err = s.QueryRowxContext(ctx, query, s.GID(), time.Now().UTC(), m.Vocabulary().Size(), rep.Accuracy,
		string(report), string(state)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save model: %w", err)
	}
	log.Printf("[INFO] model %d saved, vocabulary: %d, accuracy: %.4f", id, m.Vocabulary().Size(), rep.Accuracy)
	return id, nil
}

// Latest returns the most recently saved model. Returns ErrNotFound if nothing saved yet.
func (s *Models) Latest(ctx context.Context) (*textclass.Model, ModelInfo, error) {
	s.RLock()
	defer s.RUnlock()

	var row modelRow
	query := s.Adopt(`SELECT id, timestamp, vocab_size, accuracy, report, state FROM models
		WHERE gid = ? ORDER BY id DESC LIMIT 1`)
	if err := s.GetContext(ctx, &row, query, s.GID()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ModelInfo{}, ErrNotFound
		}
		return nil, ModelInfo{}, fmt.Errorf("failed to get latest model: %w", err)
	}

	info, err := row.info()
	if err != nil {
		return nil, ModelInfo{}, err
	}
	var st textclass.ModelState
	if err := json.Unmarshal([]byte(row.StateJSON), &st); err != nil {
		return nil, ModelInfo{}, fmt.Errorf("failed to unmarshal model %d state: %w", row.ID, err)
	}
	m, err := textclass.NewModel(st)
	if err != nil {
		return nil, ModelInfo{}, fmt.Errorf("stored model %d is invalid: %w", row.ID, err)
	}
	return m, info, nil
}

// List returns up to limit stored models, newest first, without model states
func (s *Models) List(ctx context.Context, limit int) ([]ModelInfo, error) {
	if limit <= 0 {
		limit = 10
	}
	s.RLock()
	defer s.RUnlock()

	rows := []modelRow{}
	query := s.Adopt(`SELECT id, timestamp, vocab_size, accuracy, report, '' AS state FROM models
		WHERE gid = ? ORDER BY id DESC LIMIT ?`)
	if err := s.SelectContext(ctx, &rows, query, s.GID(), limit); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	res := make([]ModelInfo, 0, len(rows))
	for _, r := range rows {
		info, err := r.info()
		if err != nil {
			return nil, err
		}
		res = append(res, info)
	}
	return res, nil
}

func (r modelRow) info() (ModelInfo, error) {
	res := r.ModelInfo
	res.Timestamp = res.Timestamp.Local()
	if err := json.Unmarshal([]byte(r.ReportJSON), &res.Report); err != nil {
		return ModelInfo{}, fmt.Errorf("failed to unmarshal model %d report: %w", r.ID, err)
	}
	return res, nil
}
