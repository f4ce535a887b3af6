package main

import (
	"bytes"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/CTAG07/Babble/pkg/markov"
	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

var (
	corpusModel    modelFlags
	corpusGenFlags generateFlags
	corpusVerbose  bool
)

// corpusCmd groups the commands that work on the corpus database.
var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage stored corpora",
	Long: `Manage the corpora stored in the database named by the config file.

Subcommands:
  add       - Store a corpus under a name
  list      - List stored corpora
  remove    - Remove a corpus
  export    - Write a corpus model to a JSON file
  import    - Store an exported model as a new corpus
  stats     - Show store or model statistics
  generate  - Generate sentences from a stored corpus`,
}

var corpusAddCmd = &cobra.Command{
	Use:   "add <name> <file>",
	Short: "Store a corpus under a name",
	Long:  `Read a plain-text corpus and store it with its model settings. The model is built first, so a corpus that can't produce one is never stored.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runCorpusAdd,
}

var corpusListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored corpora",
	Args:  cobra.NoArgs,
	RunE:  runCorpusList,
}

var corpusRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a corpus",
	Args:  cobra.ExactArgs(1),
	RunE:  runCorpusRemove,
}

var corpusExportCmd = &cobra.Command{
	Use:   "export <name> <file>",
	Short: "Write a corpus model to a JSON file",
	Args:  cobra.ExactArgs(2),
	RunE:  runCorpusExport,
}

var corpusImportCmd = &cobra.Command{
	Use:   "import <name> <file>",
	Short: "Store an exported model as a new corpus",
	Args:  cobra.ExactArgs(2),
	RunE:  runCorpusImport,
}

var corpusStatsCmd = &cobra.Command{
	Use:   "stats [name]",
	Short: "Show store or model statistics",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCorpusStats,
}

var corpusGenerateCmd = &cobra.Command{
	Use:   "generate <name>",
	Short: "Generate sentences from a stored corpus",
	Args:  cobra.ExactArgs(1),
	RunE:  runCorpusGenerate,
}

func init() {
	rootCmd.AddCommand(corpusCmd)

	corpusCmd.AddCommand(corpusAddCmd)
	corpusCmd.AddCommand(corpusListCmd)
	corpusCmd.AddCommand(corpusRemoveCmd)
	corpusCmd.AddCommand(corpusExportCmd)
	corpusCmd.AddCommand(corpusImportCmd)
	corpusCmd.AddCommand(corpusStatsCmd)
	corpusCmd.AddCommand(corpusGenerateCmd)

	corpusCmd.PersistentFlags().BoolVarP(&corpusVerbose, "verbose", "v", false, "Log store and model details")
	corpusModel.register(corpusAddCmd)
	corpusGenFlags.register(corpusGenerateCmd)
}

// withStore opens the configured database for the duration of fn.
func withStore(cmd *cobra.Command, fn func(cfg *Config, store *markov.Store) error) error {
	cfg, err := loadConfigOrDefaults(configPath)
	if err != nil {
		return err
	}

	db, store, err := openStore(cfg.Server.DatabasePath, cliLogger(cmd, corpusVerbose))
	if err != nil {
		return err
	}
	defer func() {
		store.Close()
		_ = db.Close()
	}()

	return fn(cfg, store)
}

func runCorpusAdd(cmd *cobra.Command, args []string) error {
	name, path := args[0], args[1]
	if err := validateCorpusName(name); err != nil {
		return err
	}

	return withStore(cmd, func(cfg *Config, store *markov.Store) error {
		ctx := cmd.Context()
		if err := ensureCorpusAbsent(ctx, store, name); err != nil {
			return err
		}

		input, err := openInput(cmd, path)
		if err != nil {
			return err
		}
		defer func() { _ = input.Close() }()

		g := corpusModel.apply(cmd, *cfg.Generator)
		info, err := store.InsertCorpus(ctx, markov.CorpusInfo{
			Name:                    name,
			Order:                   g.Order,
			CapitalizationThreshold: g.CapitalizationThreshold,
			MinFrequency:            g.MinFrequency,
		}, input)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Stored corpus '%s' (id %d, order %d, %s)\n",
			info.Name, info.Id, info.Order, humanize.Bytes(uint64(info.Size)))
		return err
	})
}

func runCorpusList(cmd *cobra.Command, _ []string) error {
	return withStore(cmd, func(_ *Config, store *markov.Store) error {
		infos, err := store.GetCorpusInfos(cmd.Context())
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "No corpora stored.")
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "NAME\tORDER\tTHRESHOLD\tMIN FREQ\tSIZE")
		for _, info := range infos {
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%g\t%d\t%s\n",
				info.Name, info.Order, info.CapitalizationThreshold, info.MinFrequency, humanize.Bytes(uint64(info.Size)))
		}
		return tw.Flush()
	})
}

func runCorpusRemove(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(_ *Config, store *markov.Store) error {
		info, err := store.GetCorpusInfo(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err = store.RemoveCorpus(cmd.Context(), info); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed corpus '%s'\n", info.Name)
		return err
	})
}

func runCorpusExport(cmd *cobra.Command, args []string) error {
	name, path := args[0], args[1]
	return withStore(cmd, func(_ *Config, store *markov.Store) error {
		m, err := store.LoadModel(cmd.Context(), name)
		if err != nil {
			return err
		}

		var buf bytes.Buffer
		if err = m.Export(&buf); err != nil {
			return fmt.Errorf("failed to export model: %w", err)
		}
		size := buf.Len()
		if err = atomic.WriteFile(path, &buf); err != nil {
			return fmt.Errorf("failed to write export file: %w", err)
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Exported corpus '%s' to %s (%s)\n", name, path, humanize.Bytes(uint64(size)))
		return err
	})
}

func runCorpusImport(cmd *cobra.Command, args []string) error {
	name, path := args[0], args[1]
	if err := validateCorpusName(name); err != nil {
		return err
	}

	return withStore(cmd, func(_ *Config, store *markov.Store) error {
		ctx := cmd.Context()
		if err := ensureCorpusAbsent(ctx, store, name); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open model file: %w", err)
		}
		defer func() { _ = f.Close() }()

		info, err := store.ImportModel(ctx, name, f)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Imported corpus '%s' (id %d, order %d)\n", info.Name, info.Id, info.Order)
		return err
	})
}

func runCorpusStats(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(_ *Config, store *markov.Store) error {
		out := cmd.OutOrStdout()
		if len(args) == 0 {
			stats, err := store.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Corpora:     %d\n", stats.Corpora)
			_, err = fmt.Fprintf(out, "Total size:  %s\n", humanize.Bytes(uint64(stats.TotalBytes)))
			return err
		}

		info, err := store.GetCorpusInfo(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		m, err := store.LoadModel(cmd.Context(), info.Name)
		if err != nil {
			return err
		}
		stats := m.Stats()

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintf(tw, "Corpus:\t%s\n", info.Name)
		_, _ = fmt.Fprintf(tw, "Size:\t%s\n", humanize.Bytes(uint64(info.Size)))
		_, _ = fmt.Fprintf(tw, "Order:\t%d\n", stats.Order)
		_, _ = fmt.Fprintf(tw, "Tokens:\t%s\n", humanize.Comma(int64(stats.Tokens)))
		_, _ = fmt.Fprintf(tw, "Vocabulary:\t%s\n", humanize.Comma(int64(stats.VocabSize)))
		_, _ = fmt.Fprintf(tw, "Phrases:\t%s\n", humanize.Comma(int64(stats.Phrases)))
		_, _ = fmt.Fprintf(tw, "Transitions:\t%s\n", humanize.Comma(int64(stats.TotalChains)))
		_, _ = fmt.Fprintf(tw, "Restart points:\t%s\n", humanize.Comma(int64(stats.RestartPoints)))
		_, _ = fmt.Fprintf(tw, "Capitalized words:\t%s\n", humanize.Comma(int64(stats.CapitalizedWords)))
		return tw.Flush()
	})
}

func runCorpusGenerate(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(cfg *Config, store *markov.Store) error {
		m, err := store.LoadModel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return corpusGenFlags.print(cmd, m, cfg)
	})
}
