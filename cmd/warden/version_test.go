package main

import (
	"runtime"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	Version, GitCommit = "0.1.0-test", "abc123"
	defer func() { Version, GitCommit = origVersion, origCommit }()

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	for _, want := range []string{"Warden 0.1.0-test", "Git Commit: abc123", runtime.Version()} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCommandExists(t *testing.T) {
	if versionCmd == nil {
		t.Fatal("versionCmd is nil")
	}
	if versionCmd.Use != "version" {
		t.Errorf("versionCmd.Use = %q, want %q", versionCmd.Use, "version")
	}
	if versionCmd.Short == "" {
		t.Error("versionCmd.Short should not be empty")
	}
}

func TestCompletionCommand(t *testing.T) {
	out, err := execute(t, "completion", "bash")
	if err != nil {
		t.Fatalf("completion failed: %v", err)
	}
	if !strings.Contains(out, "warden") {
		t.Error("bash completion does not mention the binary")
	}
	if _, err := execute(t, "completion", "tcsh"); err == nil {
		t.Error("expected an error for an unsupported shell")
	}
}
