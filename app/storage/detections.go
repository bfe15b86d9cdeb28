package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/umputun/drugwatch/app/storage/engine"
	"github.com/umputun/drugwatch/lib/textclass"
	"github.com/umputun/drugwatch/lib/verdict"
)

// Detections is a storage for checked messages and their verdicts
type Detections struct {
	*engine.SQL
	engine.RWLocker
}

// Detection represents a single stored check result
type Detection struct {
	ID         int64                    `db:"id" json:"id"`
	Timestamp  time.Time                `db:"timestamp" json:"timestamp"`
	Source     string                   `db:"source" json:"source"`
	Text       string                   `db:"text" json:"text"`
	Label      textclass.Label          `db:"label" json:"label"`
	Confidence float64                  `db:"confidence" json:"confidence"`
	Generation int64                    `db:"generation" json:"generation"`
	Triggers   []textclass.Contribution `db:"-" json:"triggers"`
}

type detectionRow struct {
	Detection
	TriggersJSON string `db:"triggers"`
}

// detections-related command constants
const (
	CmdCreateDetectionsTable engine.DBCmd = iota + 700
	CmdCreateDetectionsIndexes
)

var detectionsQueries = engine.NewQueryMap().
	Add(CmdCreateDetectionsTable, engine.Query{
		Sqlite: `CREATE TABLE IF NOT EXISTS detections (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            gid TEXT NOT NULL DEFAULT '',
            timestamp DATETIME NOT NULL,
            source TEXT NOT NULL DEFAULT '',
            text TEXT NOT NULL,
            label INTEGER NOT NULL CHECK (label IN (0, 1)),
            confidence REAL NOT NULL,
            generation INTEGER NOT NULL DEFAULT 0,
            triggers TEXT NOT NULL DEFAULT '[]'
        )`,
		Postgres: `CREATE TABLE IF NOT EXISTS detections (
            id SERIAL PRIMARY KEY,
            gid TEXT NOT NULL DEFAULT '',
            timestamp TIMESTAMP NOT NULL,
            source TEXT NOT NULL DEFAULT '',
            text TEXT NOT NULL,
            label INTEGER NOT NULL CHECK (label IN (0, 1)),
            confidence DOUBLE PRECISION NOT NULL,
            generation BIGINT NOT NULL DEFAULT 0,
            triggers TEXT NOT NULL DEFAULT '[]'
        )`,
	}).
	AddSame(CmdCreateDetectionsIndexes, `CREATE INDEX IF NOT EXISTS idx_detections_gid_ts ON detections(gid, timestamp)`)

// NewDetections creates a new Detections storage
func NewDetections(ctx context.Context, db *engine.SQL) (*Detections, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	res := &Detections{SQL: db, RWLocker: db.MakeLock()}
	cfg := engine.TableConfig{
		Name:          "detections",
		CreateTable:   CmdCreateDetectionsTable,
		CreateIndexes: CmdCreateDetectionsIndexes,
		QueriesMap:    detectionsQueries,
	}
	if err := engine.InitTable(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("failed to init detections storage: %w", err)
	}
	return res, nil
}

// Write stores the check result. Only triggers are kept from the explanation.
func (s *Detections) Write(ctx context.Context, req verdict.Request, resp verdict.Response) error {
	triggers := resp.Triggers
	if triggers == nil {
		triggers = []textclass.Contribution{}
	}
	data, err := json.Marshal(triggers)
	if err != nil {
		return fmt.Errorf("failed to marshal triggers: %w", err)
	}

	s.Lock()
	defer s.Unlock()

	query := s.Adopt(`INSERT INTO detections (gid, timestamp, source, text, label, confidence, generation, triggers)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.ExecContext(ctx, query, s.GID(), time.Now().UTC(), req.Source, req.Msg, resp.Label, resp.Confidence,
		int64(resp.Generation), string(data)) //nolint:gosec // generation is a small counter
	if err != nil {
		return fmt.Errorf("failed to write detection: %w", err)
	}
	log.Printf("[DEBUG] detection saved: %s, %s", req.String(), resp.String())
	return nil
}

// Read returns up to limit detections, newest first
func (s *Detections) Read(ctx context.Context, limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = 100
	}
	s.RLock()
	defer s.RUnlock()

	rows := []detectionRow{}
	query := s.Adopt(`SELECT id, timestamp, source, text, label, confidence, generation, triggers FROM detections
		WHERE gid = ? ORDER BY id DESC LIMIT ?`)
	if err := s.SelectContext(ctx, &rows, query, s.GID(), limit); err != nil {
		return nil, fmt.Errorf("failed to read detections: %w", err)
	}

	res := make([]Detection, 0, len(rows))
	for _, r := range rows {
		d := r.Detection
		d.Timestamp = d.Timestamp.Local()
		if err := json.Unmarshal([]byte(r.TriggersJSON), &d.Triggers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal triggers of detection %d: %w", r.ID, err)
		}
		res = append(res, d)
	}
	return res, nil
}
