package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary", Optional: true},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Path != present || results[0].Detail != "" {
		t.Fatalf("unexpected status for present binary: %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be reported, got %#v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}

	required, optional := Missing(results)
	if required != 1 || optional != 1 {
		t.Fatalf("Missing = (%d, %d), want (1, 1)", required, optional)
	}
}

func TestRequirementsPerPlatform(t *testing.T) {
	if got := SessionRequirements("linux"); len(got) != 1 || got[0].Command != "loginctl" {
		t.Fatalf("unexpected linux requirements %#v", got)
	}
	if got := SessionRequirements("darwin"); len(got) != 4 {
		t.Fatalf("expected four darwin requirements, got %d", len(got))
	}
	if got := SessionRequirements("plan9"); got != nil {
		t.Fatalf("expected no requirements, got %#v", got)
	}
	if got := NotifierRequirements(nil); got != nil {
		t.Fatalf("expected no notifier requirement, got %#v", got)
	}
	if got := NotifierRequirements([]string{"notify-send", "hi"}); len(got) != 1 || got[0].Command != "notify-send" {
		t.Fatalf("unexpected notifier requirement %#v", got)
	}
}
