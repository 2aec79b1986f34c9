package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSource(t *testing.T, root string, rel string, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestRepositoryContextsRespectBoundaries(t *testing.T) {
	violations := collectViolations(filepath.Join("..", "contexts"))
	for _, v := range violations {
		t.Errorf("%s:%d imports %q (%s)", v.File, v.Line, v.Import, v.Rule)
	}
}

func TestDetectsLayerViolations(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "area/svc/domain/entities/a.go", `package entities

import "github.com/google/uuid"

var _ = uuid.New
`)
	writeSource(t, root, "area/svc/application/commands/b.go", `package commands

import (
	_ "aegis/contexts/area/svc/adapters/memory"
	_ "aegis/contexts/other/svc/ports"
	_ "aegis/internal/platform/db"
	_ "aegis/internal/shared/events"
	_ "github.com/prometheus/client_golang/prometheus"
)
`)

	violations := collectViolations(root)
	rules := map[string]int{}
	for _, v := range violations {
		rules[v.Import+" "+v.Rule]++
	}

	expected := []string{
		"github.com/google/uuid domain import is outside explicit allowlist",
		"aegis/contexts/area/svc/adapters/memory application must not import adapters",
		"aegis/contexts/other/svc/ports cross-module imports are forbidden",
		"aegis/internal/platform/db application must not import runtime infrastructure",
	}
	for _, key := range expected {
		if rules[key] == 0 {
			t.Fatalf("expected violation %q, got %v", key, rules)
		}
	}
	for key := range rules {
		if key == "aegis/internal/shared/events application import is outside explicit allowlist" ||
			key == "github.com/prometheus/client_golang/prometheus application import is outside explicit allowlist" {
			t.Fatalf("unexpected violation %q", key)
		}
	}
}

func TestIsStdlib(t *testing.T) {
	if !isStdlib("encoding/json") {
		t.Fatalf("encoding/json is stdlib")
	}
	if isStdlib("aegis/internal/shared/events") || isStdlib("github.com/spf13/cobra") {
		t.Fatalf("module and third-party imports are not stdlib")
	}
}
