package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/cwbudde/keyanneal/internal/config"
	"github.com/cwbudde/keyanneal/internal/engine"
	"github.com/cwbudde/keyanneal/internal/layout"
)

func newFlagCommand(t *testing.T, search bool) (*cobra.Command, *requestFlags) {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	f := &requestFlags{}
	f.register(cmd, search)
	return cmd, f
}

func setFlags(t *testing.T, cmd *cobra.Command, kv ...string) {
	t.Helper()
	for i := 0; i+1 < len(kv); i += 2 {
		if err := cmd.Flags().Set(kv[i], kv[i+1]); err != nil {
			t.Fatalf("set --%s: %v", kv[i], err)
		}
	}
}

func withFileConfig(t *testing.T, cfg config.FileConfig) {
	t.Helper()
	prev := fileCfg
	fileCfg = cfg
	t.Cleanup(func() { fileCfg = prev })
}

func TestRequestFlags_Defaults(t *testing.T) {
	withFileConfig(t, config.FileConfig{})
	cmd, f := newFlagCommand(t, true)
	setFlags(t, cmd, "text", "hello")

	req, name, err := f.build(cmd)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if name != "qwerty" {
		t.Errorf("name = %q, want qwerty", name)
	}
	def := engine.DefaultRequest()
	if req.Iterations != def.Iterations || req.NumRestarts != def.NumRestarts {
		t.Errorf("hyperparameters = %d x %d, want defaults %d x %d",
			req.Iterations, req.NumRestarts, def.Iterations, def.NumRestarts)
	}
	if len(req.Layout) != layout.QWERTY().Len() {
		t.Errorf("layout has %d keys, want QWERTY", len(req.Layout))
	}
	if req.Text != "hello" {
		t.Errorf("text = %q", req.Text)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("default request invalid: %v", err)
	}
}

func TestRequestFlags_Precedence(t *testing.T) {
	cfg, err := config.ParseConfig(`
[anneal]
iterations = 5000
restarts = 3

[weights]
distance = 2.0
`)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	withFileConfig(t, cfg)

	cmd, f := newFlagCommand(t, true)
	setFlags(t, cmd, "text", "abc", "restarts", "7", "same-finger-weight", "4")

	req, _, err := f.build(cmd)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.Iterations != 5000 {
		t.Errorf("iterations = %d, want 5000 from config", req.Iterations)
	}
	if req.NumRestarts != 7 {
		t.Errorf("restarts = %d, want 7 from flag", req.NumRestarts)
	}
	if req.Weights.Distance != 2 || req.Weights.SameFinger != 4 || req.Weights.HandBalance != 1 {
		t.Errorf("weights = %+v, want distance 2 (config), same finger 4 (flag), balance 1", *req.Weights)
	}
}

func TestRequestFlags_KeyboardAndTextFile(t *testing.T) {
	withFileConfig(t, config.FileConfig{})
	dir := t.TempDir()

	kbPath := filepath.Join(dir, "tiny.yaml")
	kb := "keys:\n  A: [0, 0]\n  B: [0, 6]\nfingers:\n  A: Left Index\n"
	if err := os.WriteFile(kbPath, []byte(kb), 0o644); err != nil {
		t.Fatal(err)
	}
	textPath := filepath.Join(dir, "text.txt")
	if err := os.WriteFile(textPath, []byte("abba"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd, f := newFlagCommand(t, false)
	setFlags(t, cmd, "keyboard", kbPath, "text-file", textPath)

	req, name, err := f.build(cmd)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if name != "tiny" {
		t.Errorf("name = %q, want file basename", name)
	}
	if len(req.Layout) != 2 {
		t.Errorf("layout has %d keys, want 2", len(req.Layout))
	}
	if req.FingerAssignments["A"] != layout.LeftIndex {
		t.Errorf("finger of A = %q", req.FingerAssignments["A"])
	}
	if req.Text != "abba" {
		t.Errorf("text = %q", req.Text)
	}
}

func TestRequestFlags_MissingText(t *testing.T) {
	withFileConfig(t, config.FileConfig{})
	cmd, f := newFlagCommand(t, false)

	if _, _, err := f.build(cmd); err == nil {
		t.Error("expected an error without reference text")
	}
}
