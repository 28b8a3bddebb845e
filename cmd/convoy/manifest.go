package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/convoy-engine/convoy/pkg/models"
)

// Manifest is the YAML description of a run: the agents to register, the
// resources they share, and the tasks to execute.
type Manifest struct {
	Agents    []ManifestAgent    `yaml:"agents"`
	Resources []ManifestResource `yaml:"resources"`
	Tasks     []ManifestTask     `yaml:"tasks"`
}

// ManifestAgent declares one worker agent.
type ManifestAgent struct {
	ID           string   `yaml:"id"`
	Capabilities []string `yaml:"capabilities"`
}

// ManifestResource declares one shared resource.
type ManifestResource struct {
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
}

// ManifestClaim declares a resource claim a task holds while running.
type ManifestClaim struct {
	Name      string `yaml:"name"`
	Units     int64  `yaml:"units"`
	Exclusive bool   `yaml:"exclusive"`
}

// ManifestTask declares one task. Dependencies refer to task IDs earlier
// in the file.
type ManifestTask struct {
	ID           string          `yaml:"id"`
	Title        string          `yaml:"title"`
	DependsOn    []string        `yaml:"depends_on"`
	Priority     int             `yaml:"priority"`
	Capabilities []string        `yaml:"capabilities"`
	Tags         []string        `yaml:"tags"`
	Endpoint     string          `yaml:"endpoint"`
	Payload      string          `yaml:"payload"`
	MaxRetries   int             `yaml:"max_retries"`
	Resources    []ManifestClaim `yaml:"resources"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks IDs and dependency references.
func (m *Manifest) Validate() error {
	if len(m.Tasks) == 0 {
		return fmt.Errorf("manifest declares no tasks")
	}
	seen := make(map[string]bool, len(m.Tasks))
	for i, t := range m.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task %d has no id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		if t.MaxRetries < 0 {
			return fmt.Errorf("task %q has negative max_retries", t.ID)
		}
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on %q, which is not declared before it", t.ID, dep)
			}
		}
		seen[t.ID] = true
	}
	for i, a := range m.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent %d has no id", i)
		}
	}
	return nil
}

// Task converts a manifest entry to the engine's task model.
func (t ManifestTask) Task() models.Task {
	reqs := make([]models.ResourceRequest, 0, len(t.Resources))
	for _, r := range t.Resources {
		reqs = append(reqs, models.ResourceRequest{Name: r.Name, Units: r.Units, Exclusive: r.Exclusive})
	}
	return models.Task{
		ID:           t.ID,
		Title:        t.Title,
		DependsOn:    t.DependsOn,
		Priority:     t.Priority,
		Capabilities: t.Capabilities,
		Tags:         t.Tags,
		Endpoint:     t.Endpoint,
		Payload:      t.Payload,
		MaxRetries:   t.MaxRetries,
		Resources:    reqs,
	}
}
