package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/tuick/internal/block"
	"github.com/fakeyudi/tuick/internal/coord"
)

// executeCommand runs a cobra command with the given args and captures combined output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	_, err = root.ExecuteC()
	return buf.String(), err
}

// isolate resets flag state between runs and keeps config files out of
// the test.
func isolate(t *testing.T) {
	t.Helper()
	opts = flagValues{}
	rootCmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	xdg.Reload()
	t.Cleanup(xdg.Reload)
	t.Chdir(t.TempDir())
	for _, k := range []string{coord.PortEnv, coord.KeyEnv, "TUICK_EDITOR", "EDITOR", "VISUAL", "TUICK_EDITOR_LINE", "TUICK_EDITOR_LINE_COLUMN"} {
		t.Setenv(k, "")
	}
}

func TestExclusiveModes(t *testing.T) {
	isolate(t)
	_, err := executeCommand(rootCmd, "--reload", "--start", "--", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestNoCommand(t *testing.T) {
	isolate(t)
	_, err := executeCommand(rootCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no command given")
}

func TestInvalidTheme(t *testing.T) {
	isolate(t)
	_, err := executeCommand(rootCmd, "--theme", "neon", "--", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid theme")
}

func TestProjectConfigParseError(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(".tuick.toml", []byte("theme = ["), 0o644))
	_, err := executeCommand(rootCmd, "--", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading project config")
}

func TestSelectInformationalIsNoop(t *testing.T) {
	isolate(t)
	out, err := executeCommand(rootCmd, "--select", "", "", "", "", "")
	assert.NoError(t, err)
	assert.Contains(t, out, "No location found")
}

func TestSelectWithoutEditor(t *testing.T) {
	isolate(t)
	_, err := executeCommand(rootCmd, "--select", "a.go", "3", "1", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no editor configured")
}

func TestSelectRunsEditorTemplate(t *testing.T) {
	isolate(t)
	out := filepath.Join(t.TempDir(), "args")
	script := filepath.Join(t.TempDir(), "ed.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$@\" > "+out+"\n"), 0o755))
	t.Setenv("TUICK_EDITOR_LINE_COLUMN", script+" {file} {line} {column}")

	_, err := executeCommand(rootCmd, "--select", "src/a.go", "12", "4", "12", "9")
	require.NoError(t, err)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "src/a.go 12 4\n", string(got))
}

func TestStartNeedsFzfEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("FZF_PORT", "")
	t.Setenv("FZF_SOCK", "")
	_, err := executeCommand(rootCmd, "--start")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FZF_PORT")
}

func TestStartRegistersEndpoint(t *testing.T) {
	isolate(t)
	session := coord.NewSession(coord.Options{OutputDir: t.TempDir()})
	defer session.Close()
	key := coord.NewAPIKey()
	srv, err := coord.Listen(session, key)
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()
	for _, kv := range coord.NewClient(srv.Port(), key).Env() {
		k, v, _ := strings.Cut(kv, "=")
		t.Setenv(k, v)
	}
	t.Setenv("FZF_SOCK", "")
	t.Setenv("FZF_PORT", "6266")

	_, err = executeCommand(rootCmd, "--start")
	require.NoError(t, err)
	assert.Equal(t, "port:6266", session.Endpoint())
}

func TestFormatPassthrough(t *testing.T) {
	isolate(t)
	_, err := executeCommand(rootCmd, "--format", "--", "sh", "-c", "exit 4")
	var status exitStatus
	require.True(t, errors.As(err, &status), "got %v", err)
	assert.Equal(t, 4, status.code)
}

func TestMessage(t *testing.T) {
	isolate(t)
	_, err := executeCommand(rootCmd, "--message", "LOAD")
	assert.NoError(t, err)
}

func TestParseFlagsForReload(t *testing.T) {
	isolate(t)
	opts.formatName = "mypy"
	opts.patterns = []string{"%f:%l: %m"}
	assert.Equal(t, []string{"-f", "mypy", "-p", "%f:%l: %m"}, parseFlags())
}

func TestNewRendererOrchestratorForBuildSystems(t *testing.T) {
	isolate(t)
	render, err := newRenderer([]string{"make", "all"}, false)
	require.NoError(t, err)

	var out bytes.Buffer
	in := "make: entering\n\x02a.go\x1f1\x1f\x1f\x1f\x1fa.go:1: bad\x00\x03done\n"
	require.NoError(t, render(t.Context(), strings.NewReader(in), &out))
	blocks := decodeRecords(out.Bytes())
	require.Len(t, blocks, 3)
	assert.Equal(t, "make: entering", blocks[0].Content)
	assert.Equal(t, &block.Location{File: "a.go", Line: 1}, blocks[1].Location)
	assert.Equal(t, "done", blocks[2].Content)
}

func TestNewRendererUnknownTool(t *testing.T) {
	isolate(t)
	_, err := newRenderer([]string{"frobnicate"}, false)
	if err == nil {
		t.Skip("errorformat knows this name")
	}
	assert.Contains(t, err.Error(), "frobnicate")
}

func TestRecordPrinter(t *testing.T) {
	var out bytes.Buffer
	p := &recordPrinter{w: &out}
	rec := block.Block{Location: &block.Location{File: "a.go", Line: 2}, Content: "a.go:2: x"}.Encode()
	stream := append(append([]byte{}, rec...), 0)
	stream = append(stream, block.Block{Content: "tail"}.Encode()...)

	_, err := p.Write(stream[:5])
	require.NoError(t, err)
	_, err = p.Write(stream[5:])
	require.NoError(t, err)
	require.NoError(t, p.Flush())
	assert.Equal(t, "a.go:2: x\ntail\n", out.String())
}

func TestRunListPlainOutput(t *testing.T) {
	isolate(t)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--top", "--", "sh", "-c", "echo one; echo two; exit 3"})
	_, err := rootCmd.ExecuteC()
	var status exitStatus
	require.True(t, errors.As(err, &status), "got %v", err)
	assert.Equal(t, 3, status.code)
	assert.Equal(t, "one\ntwo\n", out.String())
}
