package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/convoy-engine/convoy/internal/config"
)

var (
	initForce      bool
	initWithConfig bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a Convoy project",
	Long: `Initialize a directory for use with Convoy.

Creates the .convoy directory structure (state store, signal files,
debug logs) and optionally a project config template.

The directory argument is optional and defaults to the current
directory.

Examples:
  convoy init               # Initialize current directory
  convoy init ./myproject   # Initialize specific directory
  convoy init --force       # Reinitialize even if already set up
  convoy init --with-config # Create a .convoy.yaml template`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initWithConfig, "with-config", false, "Create a .convoy.yaml template")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing Convoy in %s...\n\n", absPath)

	convoyDir := filepath.Join(absPath, ".convoy")
	if _, err := os.Stat(convoyDir); err == nil && !initForce {
		fmt.Println("Directory already initialized. Use --force to reinitialize.")
		return nil
	}

	for _, sub := range []string{"signals", "logs"} {
		if err := os.MkdirAll(filepath.Join(convoyDir, sub), 0755); err != nil {
			return fmt.Errorf("creating .convoy/%s directory: %w", sub, err)
		}
	}
	printStatus("✓", "Created .convoy directory structure", color.FgGreen)

	if _, err := config.GetAPIKey(nil); err != nil {
		printStatus("⚠", "ANTHROPIC_API_KEY not set (you can set it later)", color.FgYellow)
	} else {
		printStatus("✓", "ANTHROPIC_API_KEY is set", color.FgGreen)
	}

	if initWithConfig {
		if err := writeProjectConfig(absPath); err != nil {
			return err
		}
		printStatus("✓", "Created .convoy.yaml template", color.FgGreen)
	}

	fmt.Printf("\n%s Convoy initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Describe your tasks in a manifest:")
	fmt.Println("     convoy run tasks.yaml")
	fmt.Println()
	fmt.Println("  2. Watch a run without the dashboard:")
	fmt.Println("     convoy run tasks.yaml --headless")
	fmt.Println()
	fmt.Println("  3. Learn more:")
	fmt.Println("     convoy --help")
	return nil
}

func writeProjectConfig(dir string) error {
	path := filepath.Join(dir, ".convoy.yaml")
	if _, err := os.Stat(path); err == nil && !initForce {
		return nil
	}
	d := config.Default()
	template := fmt.Sprintf(`# Convoy project configuration.
# Values here override ~/.config/convoy/config.yaml; environment
# variables (CONVOY_*) override both.
backend:
  kind: %s            # anthropic or bedrock
  model: ""           # backend model name
  # api_key: ${ANTHROPIC_API_KEY}
pool:
  max_size: %d
breaker:
  threshold: %d
  cool_down: %s
scheduler:
  strategy: %s        # capability, round_robin, least_loaded, affinity
steal:
  enabled: %v
retry:
  max_retries: %d
# resources:
#   - name: gpu
#     capacity: 2
`,
		d.Backend.Kind, d.Pool.MaxSize, d.Breaker.Threshold, d.Breaker.CoolDown,
		d.Scheduler.Strategy, d.Steal.Enabled, d.Retry.MaxRetries)
	if err := os.WriteFile(path, []byte(template), 0644); err != nil {
		return fmt.Errorf("creating project config: %w", err)
	}
	return nil
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
