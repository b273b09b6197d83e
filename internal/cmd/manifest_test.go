package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const packManifest = `{
  "minecraft": {
    "version": "1.20.1",
    "modLoaders": [{"id": "forge-47.2.0", "primary": true}]
  },
  "manifestType": "minecraftModpack",
  "manifestVersion": 1,
  "name": "CLI Pack",
  "version": "2.1.0",
  "files": [
    {"projectID": 10, "fileID": 100, "required": true}
  ]
}`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestManifestValidate(t *testing.T) {
	t.Run("valid manifest", func(t *testing.T) {
		out, err := executeRoot(t, "manifest", "validate", writeTemp(t, "manifest.json", packManifest))
		require.NoError(t, err)
		assert.Equal(t, "valid: CLI Pack 2.1.0 (minecraft 1.20.1, 1 files)\n", out)
	})

	t.Run("schema violation", func(t *testing.T) {
		_, err := executeRoot(t, "manifest", "validate",
			writeTemp(t, "manifest.json", `{"manifestType": "minecraftModpack", "manifestVersion": 1}`))
		require.Error(t, err)
		assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := executeRoot(t, "manifest", "validate", filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
		assert.Equal(t, foundry.ExitFileNotFound, ExitCode(err))
	})
}

func TestManifestCheckArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"nothing to check", []string{"manifest", "check", "--project", "0", "--file", "0"}, "give a path"},
		{"only project", []string{"manifest", "check", "--project", "5", "--file", "0"}, "must both be positive"},
		{"path and ids", []string{"manifest", "check", "pack.zip", "--project", "5", "--file", "6"}, "not both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeRoot(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
		})
	}
}
