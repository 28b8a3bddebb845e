package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/convoy-engine/convoy/internal/state"
	"github.com/convoy-engine/convoy/pkg/models"
)

var statusVerbose bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last checkpointed engine state",
	Long: `Display the task state from the most recent checkpoint.

Reads the project state store (.convoy/state.db), falling back to the
global store, and prints a per-status summary of the checkpointed
tasks. Tasks that were assigned or running when the engine stopped will
resume as ready on the next 'convoy run'.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusVerbose, "verbose", "v", false, "List every task")
}

// checkpointState mirrors the coordinator's persisted checkpoint layout.
type checkpointState struct {
	SavedAt time.Time     `json:"saved_at"`
	Tasks   []models.Task `json:"tasks"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	// Prefer the project store, fall back to the global one.
	dbPath := state.ProjectPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		dbPath = state.GlobalPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No engine state found. Run 'convoy run <manifest>' to start.")
		return nil
	}

	store, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	raw, err := store.LoadCheckpoint("coordinator")
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			fmt.Println("No checkpoint found. Run 'convoy run <manifest>' to start.")
			return nil
		}
		return fmt.Errorf("load checkpoint: %w", err)
	}

	var cp checkpointState
	if err := json.Unmarshal(raw, &cp); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}

	fmt.Printf("Checkpoint from %s (%s)\n\n", cp.SavedAt.Local().Format(time.RFC1123), dbPath)

	counts := make(map[models.TaskStatus]int)
	for _, t := range cp.Tasks {
		counts[t.Status]++
	}
	order := []models.TaskStatus{
		models.TaskStatusPending,
		models.TaskStatusReady,
		models.TaskStatusAssigned,
		models.TaskStatusRunning,
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
		models.TaskStatusCancelled,
	}
	for _, s := range order {
		if counts[s] == 0 {
			continue
		}
		statusColor(s).Printf("  %-10s %d\n", s, counts[s])
	}
	fmt.Printf("  %-10s %d\n", "total", len(cp.Tasks))

	if statusVerbose {
		fmt.Println()
		sort.Slice(cp.Tasks, func(i, j int) bool { return cp.Tasks[i].ID < cp.Tasks[j].ID })
		for _, t := range cp.Tasks {
			line := fmt.Sprintf("  %-24s %-10s", t.ID, t.Status)
			if t.AssignedTo != "" {
				line += " agent=" + t.AssignedTo
			}
			if len(t.DependsOn) > 0 {
				line += " deps=" + strings.Join(t.DependsOn, ",")
			}
			if t.Error != "" {
				line += " error=" + t.Error
			}
			statusColor(t.Status).Println(line)
		}
	}
	return nil
}

func statusColor(s models.TaskStatus) *color.Color {
	switch s {
	case models.TaskStatusCompleted:
		return color.New(color.FgGreen)
	case models.TaskStatusFailed:
		return color.New(color.FgRed)
	case models.TaskStatusCancelled:
		return color.New(color.FgYellow)
	case models.TaskStatusRunning, models.TaskStatusAssigned:
		return color.New(color.FgCyan)
	default:
		return color.New(color.Reset)
	}
}
