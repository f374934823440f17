package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestImportThenStats(t *testing.T) {
	t.Setenv("STORE_DRIVER", "file")
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	csvPath := filepath.Join(dir, "march.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("timestamp,INV1,INV2\n3/1/2024 10:00,1200,50\n3/1/2024 10:15,,20\n"), 0o644))

	out, err := execute(t, "import", "--file", csvPath, "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 records from march.csv")

	out, err = execute(t, "stats", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "records:      2")
	assert.Contains(t, out, "total energy: 1,270")

	out, err = execute(t, "stats", "--data-dir", dataDir, "--device", "INV2")
	require.NoError(t, err)
	assert.Contains(t, out, "records:      2")
	assert.Contains(t, out, "total energy: 70")
}

func TestImportRejectsInvalidFile(t *testing.T) {
	t.Setenv("STORE_DRIVER", "file")
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("time,INV1\n3/1/2024 10:00,1\n"), 0o644))

	_, err := execute(t, "import", "--file", csvPath, "--data-dir", filepath.Join(dir, "data"))
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "data", "records.json"))

	_, err = execute(t, "import", "--file", filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}
