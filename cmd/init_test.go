package cmd_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-photosync/cmd"
	"github.com/paulschiretz/pgl-photosync/pkg/config"
	"github.com/paulschiretz/pgl-photosync/pkg/lockfile"
)

func TestPromptForConfirmation(t *testing.T) {
	// Helper to mock stdin/stdout and run the function
	mockPrompt := func(input string, prompt string, defaultYes bool) (bool, string) {
		// Pipe for stdin
		rIn, wIn, _ := os.Pipe()
		// Pipe for stdout
		rOut, wOut, _ := os.Pipe()

		// Save original stdin/stdout
		origStdin := os.Stdin
		origStdout := os.Stdout
		defer func() {
			os.Stdin = origStdin
			os.Stdout = origStdout
		}()

		// Redirect
		os.Stdin = rIn
		os.Stdout = wOut

		// Write input
		go func() {
			_, _ = wIn.WriteString(input)
			_ = wIn.Close()
		}()

		// Run the function
		result := cmd.PromptForConfirmation(prompt, defaultYes)

		// Close writer to read output
		_ = wOut.Close()
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)

		return result, buf.String()
	}

	tests := []struct {
		name       string
		input      string
		prompt     string
		defaultYes bool
		want       bool
		wantPrompt string
	}{
		{"Explicit Yes", "y\n", "Continue?", false, true, "Continue? [y/N]: "},
		{"Explicit No", "n\n", "Continue?", true, false, "Continue? [Y/n]: "},
		{"Default Yes (Empty)", "\n", "Sure?", true, true, "Sure? [Y/n]: "},
		{"Default No (Empty)", "\n", "Sure?", false, false, "Sure? [y/N]: "},
		{"Case Insensitive", "YES\n", "Go?", false, true, "Go? [y/N]: "},
		{"Whitespace Handling", "   y   \n", "Clean?", false, true, "Clean? [y/N]: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, output := mockPrompt(tt.input, tt.prompt, tt.defaultYes)
			if got != tt.want {
				t.Errorf("promptForConfirmation() = %v, want %v", got, tt.want)
			}
			if !strings.Contains(output, tt.wantPrompt) {
				t.Errorf("Output = %q, want substring %q", output, tt.wantPrompt)
			}
		})
	}
}

func TestRunInit(t *testing.T) {
	t.Setenv(config.EnvDestDir, "")

	t.Run("Generates config file in new destination", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "photos")
		flagMap := map[string]interface{}{"dest": dest, "concurrency": 4}

		if err := cmd.RunInit(context.Background(), flagMap); err != nil {
			t.Fatalf("RunInit failed: %v", err)
		}

		cfg, err := config.Load(dest)
		if err != nil {
			t.Fatalf("failed to load generated config: %v", err)
		}
		if cfg.Engine.Concurrency != 4 {
			t.Errorf("expected concurrency 4, but got %d", cfg.Engine.Concurrency)
		}
		if _, err := os.Stat(filepath.Join(dest, lockfile.FileName)); !os.IsNotExist(err) {
			t.Errorf("expected lock file to be released after init, but stat returned %v", err)
		}
	})

	t.Run("Preserves existing settings", func(t *testing.T) {
		dest := t.TempDir()
		existing := config.NewDefault()
		existing.Destination = dest
		existing.Engine.Concurrency = 3
		if err := config.Generate(existing); err != nil {
			t.Fatalf("failed to seed config: %v", err)
		}

		if err := cmd.RunInit(context.Background(), map[string]interface{}{"dest": dest, "log-level": "debug"}); err != nil {
			t.Fatalf("RunInit failed: %v", err)
		}

		cfg, err := config.Load(dest)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		if cfg.Engine.Concurrency != 3 {
			t.Errorf("expected concurrency 3 to survive init, but got %d", cfg.Engine.Concurrency)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("expected log level debug, but got %q", cfg.LogLevel)
		}
	})

	t.Run("Default with force overwrites", func(t *testing.T) {
		dest := t.TempDir()
		existing := config.NewDefault()
		existing.Destination = dest
		existing.Engine.Concurrency = 3
		if err := config.Generate(existing); err != nil {
			t.Fatalf("failed to seed config: %v", err)
		}

		flagMap := map[string]interface{}{"dest": dest, "default": true, "force": true}
		if err := cmd.RunInit(context.Background(), flagMap); err != nil {
			t.Fatalf("RunInit failed: %v", err)
		}

		cfg, err := config.Load(dest)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		if want := config.NewDefault().Engine.Concurrency; cfg.Engine.Concurrency != want {
			t.Errorf("expected default concurrency %d, but got %d", want, cfg.Engine.Concurrency)
		}
	})

	t.Run("Dry run writes nothing", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "photos")
		if err := cmd.RunInit(context.Background(), map[string]interface{}{"dest": dest, "dry-run": true}); err != nil {
			t.Fatalf("RunInit failed: %v", err)
		}
		if _, err := os.Stat(dest); !os.IsNotExist(err) {
			t.Errorf("expected destination to not be created in dry run, but stat returned %v", err)
		}
	})

	t.Run("Missing destination", func(t *testing.T) {
		if err := cmd.RunInit(context.Background(), map[string]interface{}{}); err == nil {
			t.Error("expected an error without a destination, but got nil")
		}
	})

	t.Run("Invalid value is rejected", func(t *testing.T) {
		dest := t.TempDir()
		err := cmd.RunInit(context.Background(), map[string]interface{}{"dest": dest, "organization": "by_month"})
		if err == nil {
			t.Fatal("expected a validation error, but got nil")
		}
		if _, statErr := os.Stat(filepath.Join(dest, config.ConfigFileName)); !os.IsNotExist(statErr) {
			t.Errorf("expected no config file after a validation error, but stat returned %v", statErr)
		}
	})
}
