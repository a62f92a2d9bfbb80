package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		want := filepath.Join(t.TempDir(), "alt.yaml")
		t.Setenv(envBatchluConfig, want)
		if got := configPath(); got != want {
			t.Fatalf("configPath = %q, want %q", got, want)
		}
	})

	t.Run("user config dir", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv(envBatchluConfig, "")
		t.Setenv("XDG_CONFIG_HOME", home)
		t.Setenv("HOME", home)
		dir, err := os.UserConfigDir()
		if err != nil {
			t.Skipf("no user config dir: %v", err)
		}
		want := filepath.Join(dir, "batchlu", "config.yaml")
		if got := configPath(); got != want {
			t.Fatalf("configPath = %q, want %q", got, want)
		}
	})
}

func TestResolveReportOut(t *testing.T) {
	t.Run("explicit output wins", func(t *testing.T) {
		t.Setenv(envBatchluOutDir, t.TempDir())
		outPath := filepath.Join(t.TempDir(), "nested", "report.json")

		got, err := resolveReportOut(outPath, "run_x")
		if err != nil {
			t.Fatalf("resolveReportOut returned error: %v", err)
		}
		if got != filepath.Clean(outPath) {
			t.Fatalf("unexpected output path: got %q want %q", got, filepath.Clean(outPath))
		}
		if _, err := os.Stat(filepath.Dir(got)); err != nil {
			t.Fatalf("expected output directory to exist: %v", err)
		}
	})

	t.Run("env dir names the file by id", func(t *testing.T) {
		envDir := filepath.Join(t.TempDir(), "reports")
		t.Setenv(envBatchluOutDir, envDir)

		got, err := resolveReportOut("", "run_abc")
		if err != nil {
			t.Fatalf("resolveReportOut returned error: %v", err)
		}
		if want := filepath.Join(envDir, "run_abc.json"); got != want {
			t.Fatalf("unexpected output path: got %q want %q", got, want)
		}
	})

	t.Run("stdout", func(t *testing.T) {
		t.Setenv(envBatchluOutDir, t.TempDir())
		for _, flag := range []string{"-", " - "} {
			got, err := resolveReportOut(flag, "run_abc")
			if err != nil || got != "" {
				t.Fatalf("resolveReportOut(%q) = %q, %v; want stdout", flag, got, err)
			}
		}
		t.Setenv(envBatchluOutDir, "")
		if got, err := resolveReportOut("", "run_abc"); err != nil || got != "" {
			t.Fatalf("resolveReportOut with no env = %q, %v; want stdout", got, err)
		}
	})
}
