package cli_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/metricstore/internal/cli"
)

func runCLI(t *testing.T, dir string, args ...string) (stdout, stderr string, code int) {
	t.Helper()

	var out, errOut bytes.Buffer

	full := append([]string{"metricstore", "--dir", dir}, args...)
	code = cli.Run(&out, &errOut, full)

	return out.String(), errOut.String(), code
}

func TestRun_IncrementAndQuery(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "data")

	_, stderr, code := runCLI(t, dir, "increment", "/requests", "5", "--dim", "region", "--set", "region=us")
	require.Equal(t, 0, code, stderr)

	stdout, stderr, code := runCLI(t, dir, "query", "/requests", "--dim", "region", "--param", "start=0", "--param", "end=9999999999999", "--param", "aggregate=true")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "hits=5")
}

func TestRun_Histogram(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "data")

	_, stderr, code := runCLI(t, dir, "histogram", "/latency", "42")
	require.Equal(t, 0, code, stderr)

	stdout, stderr, code := runCLI(t, dir, "query", "/latency", "--type", "histogram", "--param", "start=0", "--param", "end=9999999999999", "--param", "aggregate=true")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "value=42 freq=1")
}

func TestRun_UnknownCommand(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "data")

	_, stderr, code := runCLI(t, dir, "bogus")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "unknown command")
}

func TestRun_HelpWithNoArgs(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer

	code := cli.Run(&out, &errOut, []string{"metricstore"})
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "Usage: metricstore")
}

func TestRun_InvalidCounterName(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "data")

	_, stderr, code := runCLI(t, dir, "increment", "requests", "5")
	require.Equal(t, 1, code)
	require.NotEmpty(t, stderr)
}
