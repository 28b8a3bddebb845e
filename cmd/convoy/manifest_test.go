package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
agents:
  - id: agent-1
    capabilities: [build]
  - id: agent-2
resources:
  - name: gpu
    capacity: 2
tasks:
  - id: fetch
    title: Fetch sources
    endpoint: api
    payload: "pull everything"
  - id: build
    depends_on: [fetch]
    priority: 5
    capabilities: [build]
    tags: [compile]
    max_retries: 2
    resources:
      - name: gpu
        units: 1
`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(m.Agents) != 2 || len(m.Tasks) != 2 || len(m.Resources) != 1 {
		t.Fatalf("unexpected counts: %d agents, %d tasks, %d resources",
			len(m.Agents), len(m.Tasks), len(m.Resources))
	}

	task := m.Tasks[1].Task()
	if task.ID != "build" || task.Priority != 5 || task.MaxRetries != 2 {
		t.Errorf("task fields not mapped: %+v", task)
	}
	if len(task.DependsOn) != 1 || task.DependsOn[0] != "fetch" {
		t.Errorf("deps not mapped: %v", task.DependsOn)
	}
	if len(task.Resources) != 1 || task.Resources[0].Name != "gpu" || task.Resources[0].Units != 1 {
		t.Errorf("resources not mapped: %+v", task.Resources)
	}
}

func TestLoadManifestRejectsForwardDependency(t *testing.T) {
	path := writeManifest(t, `
tasks:
  - id: a
    depends_on: [b]
  - id: b
`)
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected error for dependency declared after its dependent")
	}
}

func TestLoadManifestRejectsDuplicateIDs(t *testing.T) {
	path := writeManifest(t, `
tasks:
  - id: a
  - id: a
`)
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected error for duplicate task id")
	}
}

func TestLoadManifestRejectsEmpty(t *testing.T) {
	path := writeManifest(t, "agents:\n  - id: a\n")
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected error for manifest with no tasks")
	}
}

func TestLoadManifestRejectsNegativeRetries(t *testing.T) {
	path := writeManifest(t, `
tasks:
  - id: a
    max_retries: -1
`)
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected error for negative max_retries")
	}
}
