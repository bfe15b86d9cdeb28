package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pkgz/fileutils"

	"github.com/umputun/drugwatch/lib/textclass"
)

// modelFileVersion is the current version of the model file format
const modelFileVersion = 1

// modelFile is the on-disk representation of a trained model
type modelFile struct {
	Version   int                  `json:"version"`
	CreatedAt time.Time            `json:"created_at"`
	Model     textclass.ModelState `json:"model"`
}

// SaveModelFile writes the model to the file. The write is atomic: data goes to a temporary file
// in the same directory, which is renamed to the target name after a successful write.
func SaveModelFile(path string, m *textclass.Model) error {
	if m == nil {
		return fmt.Errorf("model is nil")
	}
	dir := filepath.Dir(path)
	if !fileutils.IsDir(dir) {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to make model directory %s: %w", dir, err)
		}
	}

	data, err := json.Marshal(modelFile{Version: modelFileVersion, CreatedAt: time.Now().UTC(), Model: m.State()})
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp model file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after successful rename

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write model file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync model file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close model file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename model file: %w", err)
	}
	log.Printf("[INFO] model saved to %s, vocabulary: %d", path, m.Vocabulary().Size())
	return nil
}

// LoadModelFile reads the model from the file made by SaveModelFile. The model is validated,
// files of unknown format versions are rejected.
func LoadModelFile(path string) (*textclass.Model, error) {
	if !fileutils.IsFile(path) {
		return nil, fmt.Errorf("model file %s: %w", path, ErrNotFound)
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is set by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var mf modelFile
	if err = json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model file %s: %w", path, err)
	}
	if mf.Version != modelFileVersion {
		return nil, fmt.Errorf("unsupported model file version %d in %s", mf.Version, path)
	}

	m, err := textclass.NewModel(mf.Model)
	if err != nil {
		return nil, fmt.Errorf("invalid model in %s: %w", path, err)
	}
	log.Printf("[DEBUG] model loaded from %s, created at %s, vocabulary: %d", path,
		mf.CreatedAt.Format(time.RFC3339), m.Vocabulary().Size())
	return m, nil
}
