package storage

import (
	"context"
	"fmt"
	"log"

	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/drugwatch/app/storage/engine"
	"github.com/umputun/drugwatch/lib/textclass"
)

// Samples is a storage for labeled samples used for training. It keeps both preset samples,
// usually imported from a generated dataset, and user's samples added one by one.
type Samples struct {
	*engine.SQL
	engine.RWLocker
}

// SampleOrigin represents the origin of the sample
type SampleOrigin string

// enum for sample origins
const (
	SampleOriginPreset SampleOrigin = "preset"
	SampleOriginUser   SampleOrigin = "user"
	SampleOriginAny    SampleOrigin = "any"
)

// Sample is a single stored sample
type Sample struct {
	ID      int64           `db:"id" json:"id"`
	Label   textclass.Label `db:"label" json:"label"`
	Origin  SampleOrigin    `db:"origin" json:"origin"`
	Message string          `db:"message" json:"message"`
}

// samples-related command constants
const (
	CmdCreateSamplesTable engine.DBCmd = iota + 500
	CmdCreateSamplesIndexes
	CmdAddSample
)

// samplesQueries holds all samples-related queries
var samplesQueries = engine.NewQueryMap().
	Add(CmdCreateSamplesTable, engine.Query{
		Sqlite: `CREATE TABLE IF NOT EXISTS samples (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            gid TEXT NOT NULL DEFAULT '',
            timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
            label INTEGER NOT NULL CHECK (label IN (0, 1)),
            origin TEXT NOT NULL CHECK (origin IN ('preset', 'user')),
            message TEXT NOT NULL,
            UNIQUE(gid, message)
        )`,
		Postgres: `CREATE TABLE IF NOT EXISTS samples (
            id SERIAL PRIMARY KEY,
            gid TEXT NOT NULL DEFAULT '',
            timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            label INTEGER NOT NULL CHECK (label IN (0, 1)),
            origin TEXT NOT NULL CHECK (origin IN ('preset', 'user')),
            message TEXT NOT NULL,
            message_hash TEXT GENERATED ALWAYS AS (encode(sha256(message::bytea), 'hex')) STORED,
            UNIQUE(gid, message_hash)
        )`,
	}).
	Add(CmdCreateSamplesIndexes, engine.Query{
		Sqlite: `
			CREATE INDEX IF NOT EXISTS idx_samples_gid ON samples(gid);
			CREATE INDEX IF NOT EXISTS idx_samples_lookup ON samples(gid, label, origin)`,
		Postgres: `
			CREATE INDEX IF NOT EXISTS idx_samples_gid ON samples(gid);
			CREATE INDEX IF NOT EXISTS idx_samples_lookup ON samples(gid, label, origin);
			CREATE INDEX IF NOT EXISTS idx_samples_message_hash ON samples(message_hash)`,
	}).
	Add(CmdAddSample, engine.Query{
		Sqlite: `INSERT OR REPLACE INTO samples (gid, label, origin, message) VALUES (?, ?, ?, ?)`,
		Postgres: `INSERT INTO samples (gid, label, origin, message) VALUES ($1, $2, $3, $4)
                  ON CONFLICT (gid, message_hash) DO UPDATE SET label = EXCLUDED.label, origin = EXCLUDED.origin`,
	})

// NewSamples creates a new Samples storage
func NewSamples(ctx context.Context, db *engine.SQL) (*Samples, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	res := &Samples{SQL: db, RWLocker: db.MakeLock()}
	cfg := engine.TableConfig{
		Name:          "samples",
		CreateTable:   CmdCreateSamplesTable,
		CreateIndexes: CmdCreateSamplesIndexes,
		QueriesMap:    samplesQueries,
	}
	if err := engine.InitTable(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("failed to init samples storage: %w", err)
	}
	return res, nil
}

// Add adds a sample to the storage. Existing sample with the same message is replaced.
func (s *Samples) Add(ctx context.Context, label textclass.Label, o SampleOrigin, message string) error {
	log.Printf("[DEBUG] adding sample: %s, %s, %q", label, o, shorten(message))
	if err := validateSample(label, o, message); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	query, err := samplesQueries.Pick(s.Type(), CmdAddSample)
	if err != nil {
		return fmt.Errorf("failed to get query: %w", err)
	}
	if _, err := s.ExecContext(ctx, query, s.GID(), label, o, message); err != nil {
		return fmt.Errorf("failed to add sample: %w", err)
	}
	return nil
}

// Delete removes a sample from the storage by its ID
func (s *Samples) Delete(ctx context.Context, id int64) error {
	log.Printf("[DEBUG] deleting sample: %d", id)
	s.Lock()
	defer s.Unlock()

	result, err := s.ExecContext(ctx, s.Adopt(`DELETE FROM samples WHERE gid = ? AND id = ?`), s.GID(), id)
	if err != nil {
		return fmt.Errorf("failed to remove sample: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sample %d: %w", id, ErrNotFound)
	}
	return nil
}

// Read returns stored samples of the given origin, in insertion order
func (s *Samples) Read(ctx context.Context, o SampleOrigin) ([]Sample, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	query := `SELECT id, label, origin, message FROM samples WHERE gid = ? ORDER BY id`
	args := []any{s.GID()}
	if o != SampleOriginAny {
		query = `SELECT id, label, origin, message FROM samples WHERE gid = ? AND origin = ? ORDER BY id`
		args = append(args, o)
	}

	s.RLock()
	defer s.RUnlock()
	res := []Sample{}
	if err := s.SelectContext(ctx, &res, s.Adopt(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get samples: %w", err)
	}
	log.Printf("[DEBUG] read %d samples: gid=%s, origin=%s", len(res), s.GID(), o)
	return res, nil
}

// Examples returns stored samples of the given origin as training examples, in insertion order.
// The order is stable, so training on the same stored data gives the same model.
func (s *Samples) Examples(ctx context.Context, o SampleOrigin) ([]textclass.Example, error) {
	samples, err := s.Read(ctx, o)
	if err != nil {
		return nil, err
	}
	res := make([]textclass.Example, len(samples))
	for i, smpl := range samples {
		res[i] = textclass.Example{Text: smpl.Message, Label: smpl.Label}
	}
	return res, nil
}

// Import adds examples to the storage in a single transaction. All examples are validated first,
// and nothing is imported if any of them is invalid. If withCleanup is true removes all samples
// of the same origin before import. Returns statistics about stored samples.
func (s *Samples) Import(ctx context.Context, examples []textclass.Example, o SampleOrigin, withCleanup bool) (*SamplesStats, error) {
	if o == SampleOriginAny {
		return nil, fmt.Errorf("can't import samples with origin 'any'")
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	errs := new(multierror.Error)
	for i, ex := range examples {
		if err := validateSample(ex.Label, o, ex.Text); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("sample %d: %w", i, err))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("invalid samples: %w", err)
	}

	gid := s.GID()
	s.Lock()
	defer s.Unlock()

	tx, err := s.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if withCleanup {
		if err = s.cleanup(ctx, tx, o); err != nil {
			return nil, err
		}
	}

	query, err := samplesQueries.Pick(s.Type(), CmdAddSample)
	if err != nil {
		return nil, fmt.Errorf("failed to get import query: %w", err)
	}
	for _, ex := range examples {
		if _, err = tx.ExecContext(ctx, query, gid, ex.Label, o, ex.Text); err != nil {
			return nil, fmt.Errorf("failed to add sample: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	log.Printf("[DEBUG] imported %d samples: gid=%s, origin=%s", len(examples), gid, o)
	return s.stats(ctx)
}

func (s *Samples) cleanup(ctx context.Context, tx *sqlx.Tx, o SampleOrigin) error {
	result, err := tx.ExecContext(ctx, s.Adopt(`DELETE FROM samples WHERE gid = ? AND origin = ?`), s.GID(), o)
	if err != nil {
		return fmt.Errorf("failed to remove old samples: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	log.Printf("[DEBUG] removed %d old samples: gid=%s, origin=%s", affected, s.GID(), o)
	return nil
}

func validateSample(label textclass.Label, o SampleOrigin, message string) error {
	if err := label.Validate(); err != nil {
		return err
	}
	if err := o.Validate(); err != nil {
		return err
	}
	if o == SampleOriginAny {
		return fmt.Errorf("can't add sample with origin 'any'")
	}
	if message == "" {
		return fmt.Errorf("message can't be empty")
	}
	return nil
}

// String implements Stringer interface
func (o SampleOrigin) String() string { return string(o) }

// Validate checks if the sample origin is valid
func (o SampleOrigin) Validate() error {
	switch o {
	case SampleOriginPreset, SampleOriginUser, SampleOriginAny:
		return nil
	}
	return fmt.Errorf("invalid sample origin: %s", o)
}

// SamplesStats returns statistics about samples
type SamplesStats struct {
	TotalIllicit  int `db:"illicit_count" json:"total_illicit"`
	TotalSafe     int `db:"safe_count" json:"total_safe"`
	PresetIllicit int `db:"preset_illicit_count" json:"preset_illicit"`
	PresetSafe    int `db:"preset_safe_count" json:"preset_safe"`
	UserIllicit   int `db:"user_illicit_count" json:"user_illicit"`
	UserSafe      int `db:"user_safe_count" json:"user_safe"`
}

// String provides a string representation of the statistics
func (st *SamplesStats) String() string {
	return fmt.Sprintf("illicit: %d, safe: %d, preset illicit: %d, preset safe: %d, user illicit: %d, user safe: %d",
		st.TotalIllicit, st.TotalSafe, st.PresetIllicit, st.PresetSafe, st.UserIllicit, st.UserSafe)
}

// Stats returns statistics about samples
func (s *Samples) Stats(ctx context.Context) (*SamplesStats, error) {
	s.RLock()
	defer s.RUnlock()
	return s.stats(ctx)
}

// stats returns statistics about samples without locking
func (s *Samples) stats(ctx context.Context) (*SamplesStats, error) {
	query := s.Adopt(`
        SELECT
            COUNT(CASE WHEN label = 1 THEN 1 END) as illicit_count,
            COUNT(CASE WHEN label = 0 THEN 1 END) as safe_count,
            COUNT(CASE WHEN label = 1 AND origin = 'preset' THEN 1 END) as preset_illicit_count,
            COUNT(CASE WHEN label = 0 AND origin = 'preset' THEN 1 END) as preset_safe_count,
            COUNT(CASE WHEN label = 1 AND origin = 'user' THEN 1 END) as user_illicit_count,
            COUNT(CASE WHEN label = 0 AND origin = 'user' THEN 1 END) as user_safe_count
        FROM samples
        WHERE gid = ?`)

	var stats SamplesStats
	if err := s.GetContext(ctx, &stats, query, s.GID()); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &stats, nil
}
