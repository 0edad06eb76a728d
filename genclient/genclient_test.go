package genclient

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeFakeGenerator writes a tiny shell script standing in for a real
// generator binary: it touches outputName inside the directory its second
// argument names, simulating a successful run.
func writeFakeGenerator(t *testing.T, outputName string) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "gen.sh")
	content := "#!/bin/sh\ntouch \"$2/" + outputName + "\"\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script
}

func TestGenerateSucceedsWhenOutputAppears(t *testing.T) {
	outDir := t.TempDir()
	script := writeFakeGenerator(t, "mat1.d12")
	c := NewClient(map[string]string{"cif2d12": script}, time.Second)

	cfg := Config{CalcType: "OPT", MaterialID: "mat1", OutputDir: outDir}
	err := c.Generate(context.Background(), "cif2d12", cfg, filepath.Join(outDir, "mat1.d12"))
	require.NoError(t, err)
}

func TestGenerateFailsWhenOutputMissing(t *testing.T) {
	outDir := t.TempDir()
	script := writeFakeGenerator(t, "wrong_name.d12")
	c := NewClient(map[string]string{"cif2d12": script}, time.Second)

	cfg := Config{CalcType: "OPT", MaterialID: "mat1", OutputDir: outDir}
	err := c.Generate(context.Background(), "cif2d12", cfg, filepath.Join(outDir, "mat1.d12"))
	require.Error(t, err)
}

func TestGenerateUnknownHandle(t *testing.T) {
	c := NewClient(map[string]string{}, time.Second)
	err := c.Generate(context.Background(), "nope", Config{OutputDir: t.TempDir()}, "/tmp/x")
	require.Error(t, err)
}
