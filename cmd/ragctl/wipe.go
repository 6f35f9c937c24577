package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raglab/ragd/internal/config"
	"github.com/raglab/ragd/internal/vectorstore"
)

var (
	wipeConfigPath string
	wipeYes        bool
)

// wipeCmd drops the configured vector collection
var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Drop the vector collection",
	Long: `Drop the configured vector collection, removing all indexed chunks.

Wipe talks to the vector store directly using the same configuration as the
daemon, so it works even when ragd is not running. Uploaded PDF files are not
touched; re-ingest by uploading again.

Examples:
  ragctl wipe --yes
  ragctl wipe --config ragd.yaml --yes`,
	RunE: runWipe,
}

func init() {
	wipeCmd.Flags().StringVar(&wipeConfigPath, "config", "", "path to YAML config file")
	wipeCmd.Flags().BoolVar(&wipeYes, "yes", false, "skip confirmation")
	rootCmd.AddCommand(wipeCmd)
}

func runWipe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(wipeConfigPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if !wipeYes {
		fmt.Printf("This drops collection %q from the %s store. Continue? [y/N]: ",
			cfg.VectorStore.Collection, cfg.VectorStore.Provider)
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("aborted")
			return nil
		}
	}

	index, err := vectorstore.New(cfg.VectorStore)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	defer index.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := index.Drop(ctx, cfg.VectorStore.Collection); err != nil {
		return fmt.Errorf("dropping collection: %w", err)
	}

	fmt.Printf("collection %q dropped\n", cfg.VectorStore.Collection)
	return nil
}
