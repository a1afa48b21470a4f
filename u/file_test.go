package u

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert"
)

func TestFileHelpers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	assert.False(t, FileExists(path))
	assert.Equal(t, int64(-1), FileSize(path))

	assert.NoError(t, os.WriteFile(path, []byte("hello"), 0644))
	assert.True(t, FileExists(path))
	assert.False(t, FileExists(dir))
	assert.Equal(t, int64(5), FileSize(path))
}

func TestExpandTildeInPath(t *testing.T) {
	home, err := os.UserHomeDir()
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ssh", "id_ed25519"), ExpandTildeInPath("~/.ssh/id_ed25519"))
	assert.Equal(t, "/etc/hosts", ExpandTildeInPath("/etc/hosts"))
}
