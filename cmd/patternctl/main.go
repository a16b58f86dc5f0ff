package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/anime-shed/pattern-inspector-go/internal/config"
	"github.com/anime-shed/pattern-inspector-go/internal/container"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "patternctl",
	Short: "Recognize tile and material patterns from the command line",
	Long: `patternctl runs the recognition pipeline in-process on local files
or remote URLs and prints the result as JSON.

Examples:
  patternctl recognize tile.jpg
  patternctl recognize catalogue.pdf --dpi 200
  patternctl extract catalogue.pdf --pages 1-3,7
  patternctl similar tile.jpg --limit 5`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file loaded before the process environment")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withContainer builds the dependency graph for a single command run.
func withContainer(ctx context.Context, fn func(c *container.Container) error) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	c, err := container.NewContainer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	runErr := fn(c)
	if err := c.Close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
