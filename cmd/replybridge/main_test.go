package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("PROMPTS_CONFIG", "")
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"--env-file", ".env", "--db", db}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTemplateCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	out, err := run(t, db, "template", "add", "--name", "brief", "--template", "Short: {message}", "--activate")
	require.NoError(t, err)
	assert.Contains(t, out, "template 1 created")

	out, err = run(t, db, "template", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "brief")
	assert.Contains(t, out, "true")

	_, err = run(t, db, "template", "add", "--name", "bad", "--template", "no placeholder")
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	out, err := run(t, db, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "not configured")

	_, err = run(t, db, "config", "set", "--api-key", "abcd5678", "--model", "gemini-pro")
	require.NoError(t, err)

	out, err = run(t, db, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "****5678")
	assert.Contains(t, out, "gemini-pro")
}

func TestReplyCommand_InvalidID(t *testing.T) {
	_, err := run(t, filepath.Join(t.TempDir(), "cli.db"), "reply", "abc")
	assert.Error(t, err)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\tc", 10))
	assert.Equal(t, "abcdefg...", oneLine("abcdefghijklmnop", 10))
}
