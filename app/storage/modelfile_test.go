package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/drugwatch/lib/textclass"
)

func TestModelFile_SaveLoad(t *testing.T) {
	m, err := textclass.Fit(trainSet)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sub", "model.json")
	require.NoError(t, SaveModelFile(path, m))

	loaded, err := LoadModelFile(path)
	require.NoError(t, err)
	assert.Equal(t, m.State(), loaded.State())
	assert.Equal(t, m.Predict("pills available now"), loaded.Predict("pills available now"))

	t.Run("no temp files left", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "model.json", entries[0].Name())
	})

	t.Run("overwrite", func(t *testing.T) {
		m2, err := textclass.Fit(trainSet[:2])
		require.NoError(t, err)
		require.NoError(t, SaveModelFile(path, m2))
		loaded, err := LoadModelFile(path)
		require.NoError(t, err)
		assert.Equal(t, m2.Vocabulary().Tokens(), loaded.Vocabulary().Tokens())
	})

	t.Run("nil model", func(t *testing.T) {
		assert.Error(t, SaveModelFile(path, nil))
	})
}

func TestModelFile_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr error
		errText string
	}{
		{name: "missing", path: filepath.Join(dir, "missing.json"), wantErr: ErrNotFound},
		{name: "directory", path: dir, wantErr: ErrNotFound},
		{name: "bad json", path: write("bad.json", "{not json"), errText: "failed to unmarshal"},
		{name: "unknown version", path: write("v2.json", `{"version":2,"model":{}}`), errText: "unsupported model file version 2"},
		{name: "invalid model", path: write("empty.json", `{"version":1,"model":{"tokens":[]}}`),
			wantErr: textclass.ErrEmptyVocabulary},
		{name: "dimension mismatch", path: write("dim.json",
			`{"version":1,"model":{"tokens":["a","b"],"priors":[0.5,0.5],"feature_log_prob":[[-1],[-1]],"alpha":1}}`),
			wantErr: textclass.ErrDimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := LoadModelFile(tt.path)
			require.Error(t, err)
			assert.Nil(t, m)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.errText != "" {
				assert.Contains(t, err.Error(), tt.errText)
			}
		})
	}
}
