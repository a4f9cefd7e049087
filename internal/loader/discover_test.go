package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestDiscoverSearchPathOrder(t *testing.T) {
	primary := t.TempDir()
	imports := filepath.Join(primary, "imports")

	touch(t, filepath.Join(imports, "roster_2026.xlsx"))
	path, err := Discover([]string{primary, imports}, []string{"roster*.xlsx", "patients*.xlsx"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(imports, "roster_2026.xlsx"), path)

	// A file in the primary directory beats the imports subdirectory.
	touch(t, filepath.Join(primary, "roster_2025.xlsx"))
	path, err = Discover([]string{primary, imports}, []string{"roster*.xlsx", "patients*.xlsx"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(primary, "roster_2025.xlsx"), path)
}

func TestDiscoverFirstPatternWins(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "patients.xlsx"))
	touch(t, filepath.Join(dir, "roster.xlsx"))

	path, err := Discover([]string{dir}, []string{"roster*.xlsx", "patients*.xlsx"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "roster.xlsx"), path)
}

func TestDiscoverNoMatch(t *testing.T) {
	_, err := Discover([]string{t.TempDir()}, []string{"roster*.xlsx"})
	require.ErrorIs(t, err, ErrNoFile)
}
