package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	t.Run("should expose the expected subcommands", func(t *testing.T) {
		root := GetRootCmd()

		names := map[string]bool{}
		for _, cmd := range root.Commands() {
			names[cmd.Name()] = true
		}

		assert.True(t, names["serve"])
		assert.True(t, names["init"])
	})

	t.Run("should report the version", func(t *testing.T) {
		assert.Equal(t, version, GetVersion())
	})
}

func TestInitCommand(t *testing.T) {
	t.Run("should write a default config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "taskchat.json")
		cfgFile = path
		defer func() { cfgFile = "" }()

		var out bytes.Buffer
		root := GetRootCmd()
		root.SetOut(&out)
		root.SetArgs([]string{"init"})

		require.NoError(t, root.Execute())
		assert.Contains(t, out.String(), path)
		assert.FileExists(t, path)
	})

	t.Run("should refuse to overwrite an existing config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "taskchat.json")
		cfgFile = path
		defer func() { cfgFile = "" }()

		root := GetRootCmd()
		root.SetArgs([]string{"init"})
		require.NoError(t, root.Execute())

		root.SetArgs([]string{"init"})
		err := root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})
}
