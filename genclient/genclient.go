// Package genclient invokes the external input-file generator as a
// subprocess: a JSON configuration file fully determines its behavior, no
// interactive prompts are permitted, and success is signaled by a zero
// exit code plus the expected output file appearing on disk (spec.md
// §4.1/§6). Grounded on the same subprocess-with-timeout idiom as
// scheduler/, sharing its run() shape.
package genclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Config is the JSON document written to disk and passed to the
// generator binary, describing everything it needs to produce one
// calculation's input file.
type Config struct {
	CalcType    string                 `json:"calc_type"`
	MaterialID  string                 `json:"material_id"`
	SourceFile  string                 `json:"source_file,omitempty"`  // predecessor input/output to derive from
	OutputDir   string                 `json:"output_dir"`
	Options     map[string]interface{} `json:"options,omitempty"`
	OptionsFile string                 `json:"options_file,omitempty"`
}

// Client invokes a named external generator binary with a bounded timeout.
type Client struct {
	// Binaries maps a generator handle (plan StepConfig.Source, e.g.
	// "cif2d12", "opt2sp", "opt2freq") to its executable path or name.
	Binaries map[string]string
	Timeout  time.Duration
}

// NewClient builds a Client from a handle->binary map and a timeout.
func NewClient(binaries map[string]string, timeout time.Duration) *Client {
	return &Client{Binaries: binaries, Timeout: timeout}
}

// Generate runs the generator registered under handle with cfg, writing
// cfg to a temporary JSON file in cfg.OutputDir and invoking the binary
// with that file's path and the output directory as arguments. It
// returns an error if the process exits non-zero, times out, or the
// expected output file is absent afterward.
func (c *Client) Generate(ctx context.Context, handle string, cfg Config, expectedOutput string) error {
	binary, ok := c.Binaries[handle]
	if !ok {
		// No override registered for this handle: assume it names an
		// executable on PATH, so a plan's step_configurations can name a
		// generator by its bare binary name without requiring a
		// --generator-bin entry for every handle.
		binary = handle
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create generator output dir %s: %w", cfg.OutputDir, err)
	}

	configPath := filepath.Join(cfg.OutputDir, fmt.Sprintf(".%s_%s.gen.json", cfg.CalcType, cfg.MaterialID))
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal generator config: %w", err)
	}
	if err := os.WriteFile(configPath, raw, 0o644); err != nil {
		return fmt.Errorf("write generator config %s: %w", configPath, err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binary, configPath, cfg.OutputDir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// Generators must never prompt interactively; /dev/null as stdin
	// turns any accidental prompt into an immediate EOF instead of a hang.
	cmd.Stdin = nil

	err = cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("generator %q timed out after %s", handle, timeout)
	}
	if err != nil {
		return fmt.Errorf("generator %q failed: %w (stderr: %s)", handle, err, stderr.String())
	}

	if _, err := os.Stat(expectedOutput); err != nil {
		return fmt.Errorf("generator %q reported success but expected output %s is missing: %w", handle, expectedOutput, err)
	}
	return nil
}
