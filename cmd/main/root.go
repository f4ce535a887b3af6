package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "babble",
	Short: "Babble - a Markov chain sentence generator",
	Long: `Babble learns word sequences from a text corpus and generates new,
plausible-looking sentences from them.

Examples:
  babble generate book.txt                      # One sentence from a file
  babble generate book.txt --prompt "The" -n 3  # Three sentences starting with "The"
  babble corpus add books book.txt              # Store a corpus
  babble corpus generate books                  # Generate from a stored corpus
  babble serve                                  # Start the HTTP API`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "Path to config file (.json, .yaml or .yml)")
}
