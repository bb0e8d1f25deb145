package faces

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(t.TempDir(), 0.7, "unknown face", time.Minute)
	require.NoError(t, err)
	return db
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 5.0, Distance(Embedding{0, 0}, Embedding{3, 4}), 1e-9)
	assert.True(t, math.IsInf(Distance(Embedding{1}, Embedding{1, 2}), 1))
	assert.True(t, math.IsInf(Distance(nil, nil), 1))
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"Alice", true},
		{"Bob42", true},
		{"Élodie", true},
		{"", false},
		{"Alice Smith", false},
		{"../etc", false},
	}
	for _, tc := range tests {
		err := ValidateName(tc.name)
		if tc.valid {
			assert.NoError(t, err, tc.name)
		} else {
			assert.ErrorIs(t, err, ErrInvalidName, tc.name)
		}
	}
}

func TestIdentify_MatchesBelowThreshold(t *testing.T) {
	db := newTestDatabase(t)
	_, err := db.Save("Alice", []Embedding{{0, 0, 1}, {0, 0.1, 1}})
	require.NoError(t, err)
	_, err = db.Save("Bob", []Embedding{{1, 0, 0}})
	require.NoError(t, err)

	assert.Equal(t, "Alice", db.Identify(Embedding{0, 0.05, 1}))
	assert.Equal(t, "Bob", db.Identify(Embedding{0.9, 0, 0}))
	assert.Equal(t, "unknown face", db.Identify(Embedding{0, 1, 0}))
	assert.Equal(t, "unknown face", db.Identify(nil))
}

func TestSave_RejectsInvalidNameAndEmptySamples(t *testing.T) {
	db := newTestDatabase(t)

	_, err := db.Save("not valid", []Embedding{{1}})
	assert.ErrorIs(t, err, ErrInvalidName)

	msg, err := db.Save("Alice", []Embedding{nil})
	require.NoError(t, err)
	assert.Contains(t, msg, "No face embedding")

	names, err := db.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSave_InvalidatesCache(t *testing.T) {
	db := newTestDatabase(t)
	assert.Equal(t, "unknown face", db.Identify(Embedding{1, 1}))

	msg, err := db.Save("Carol", []Embedding{{1, 1}})
	require.NoError(t, err)
	assert.Equal(t, "1 face embeddings saved for Carol.", msg)
	assert.Equal(t, "Carol", db.Identify(Embedding{1, 1}))

	require.NoError(t, db.Remove("Carol"))
	assert.Equal(t, "unknown face", db.Identify(Embedding{1, 1}))
}

func TestIdentities_SkipsMalformedFiles(t *testing.T) {
	db := newTestDatabase(t)
	require.NoError(t, os.WriteFile(filepath.Join(db.dir, "broken.json"), []byte("{"), 0600))
	_, err := db.Save("Dave", []Embedding{{0.5}})
	require.NoError(t, err)

	names, err := db.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"Dave"}, names)
}
