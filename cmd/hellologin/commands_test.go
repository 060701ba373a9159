package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "server:\n  public_url: https://site.example\nsettings_file: " + filepath.Join(dir, "settings.yaml") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestQuickstartURLCmd(t *testing.T) {
	out, err := run(t, "--config", writeConfig(t), "quickstart-url")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "https://quickstart.hello.coop/?"), out)
	assert.Contains(t, out, "integration=go-hellologin")
	assert.Contains(t, out, "suggested_name=site.example")
}

func TestGroupsListCmd_Empty(t *testing.T) {
	out, err := run(t, "--config", writeConfig(t), "groups", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "[]")
}

func TestGCStatesCmd(t *testing.T) {
	out, err := run(t, "--config", writeConfig(t), "gc-states")
	require.NoError(t, err)
	assert.Equal(t, "removed=0\n", out)
}

func TestMigrateCmd_RequiresDSN(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t), "migrate")
	assert.EqualError(t, err, "users.dsn is required")
}
