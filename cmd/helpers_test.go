// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/restfuzz/internal/observability"
)

// quietConfig keeps test runs off the filesystem and out of the console.
const quietConfig = `
logger:
  level: error
  log_file: ""
`

// executeCommand runs a fresh command tree and returns its stdout and stderr.
func executeCommand(t *testing.T, stores storeProvider, args ...string) (string, string, error) {
	t.Helper()
	return executeCommandContext(t, context.Background(), stores, args...)
}

func executeCommandContext(t *testing.T, ctx context.Context, stores storeProvider, args ...string) (string, string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	if stores == nil {
		stores = NewStoreProvider()
	}
	rootCmd := newRootCommand(stores)
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// writeFile creates name under a per-test directory and returns its path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// quietConfigFile writes quietConfig plus extra YAML.
func quietConfigFile(t *testing.T, extra string) string {
	t.Helper()
	return writeFile(t, "restfuzz.yaml", quietConfig+extra)
}
