package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := writeStub(t, binDir, "present", "exit 0")
	reqs := []Requirement{
		{Name: "Present", Argv: []string{present, "--flag"}},
		{Name: "Missing", Argv: []string{"clearly-not-present-binary"}},
		{Name: "Empty", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Path != present {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Command != present+" --flag" {
		t.Fatalf("unexpected command recorded: %s", results[0].Command)
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary with detail, got %#v", results[1])
	}
	if results[2].Available || results[2].Detail != "command not configured" || !results[2].Optional {
		t.Fatalf("unexpected empty requirement status %#v", results[2])
	}
}

func TestPythonModule(t *testing.T) {
	cases := map[string][]string{
		"pytorch_fid": {"python3", "-m", "pytorch_fid"},
		"":            {"fid-helper", "-m", "x"},
	}
	for want, argv := range cases {
		if got := pythonModule(argv); got != want {
			t.Fatalf("pythonModule(%v) = %q, want %q", argv, got, want)
		}
	}
	if pythonModule([]string{"python3"}) != "" {
		t.Fatal("expected no module for bare interpreter")
	}
}

func TestCheckModules(t *testing.T) {
	binDir := t.TempDir()
	// Stubs stand in for interpreters with and without the module.
	good := writeStub(t, binDir, "python-good", "exit 0")
	bad := writeStub(t, binDir, "python-bad", "exit 1")

	statuses := []Status{
		{Name: "good", Path: good, Module: "ok_module", Available: true},
		{Name: "bad", Path: bad, Module: "missing_module", Available: true},
		{Name: "plain", Path: bad, Available: true},
	}
	out := CheckModules(context.Background(), statuses)
	if !out[0].Available {
		t.Fatalf("expected importable module, got %#v", out[0])
	}
	if out[1].Available || out[1].Detail == "" {
		t.Fatalf("expected missing module, got %#v", out[1])
	}
	if !out[2].Available {
		t.Fatal("commands without a module must not be probed")
	}
	if !statuses[1].Available {
		t.Fatal("input statuses must not be modified")
	}
}
