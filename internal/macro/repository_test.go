package macro

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryLookup(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "login_test.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "suite"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "suite", "checkout.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "folder.json"), 0o755))

	repo := NewRepository(dir, ".json")

	tests := []struct {
		name    string
		macro   string
		wantErr error
	}{
		{name: "existing macro", macro: "login_test"},
		{name: "nested macro", macro: "suite/checkout"},
		{name: "missing macro", macro: "nope", wantErr: ErrNotFound},
		{name: "directory is not a macro", macro: "folder", wantErr: ErrNotFound},
		{name: "empty name", macro: "", wantErr: ErrInvalidName},
		{name: "parent escape", macro: "../etc/passwd", wantErr: ErrInvalidName},
		{name: "absolute path", macro: "/etc/passwd", wantErr: ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := repo.Lookup(tt.macro)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, filepath.FromSlash(tt.macro)+".json"), path)
		})
	}
}

func TestRepositoryPathIncludesName(t *testing.T) {
	repo := NewRepository("/usr/src/uivision/macros", ".json")
	path, err := repo.Path("login_test")
	require.NoError(t, err)
	assert.Equal(t, "/usr/src/uivision/macros/login_test.json", path)
	assert.Equal(t, "/usr/src/uivision/macros", repo.Dir())
}
