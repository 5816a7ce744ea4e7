// Package cmd defines the writeups command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/writeup-search/internal/pipeline"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	cfgFile string
	v       *viper.Viper
}

// flagKeys maps persistent flag names to configuration keys.
var flagKeys = map[string]string{
	"start":      "fetch.start",
	"end":        "fetch.end",
	"mode":       "fetch.mode",
	"workers":    "fetch.workers",
	"storage":    "storage.backend",
	"dir":        "storage.dir",
	"output":     "corpus.output",
	"index":      "index.backend",
	"index-name": "index.name",
	"endpoint":   "index.endpoint",
	"batch-size": "load.batch_size",
	"offset":     "load.start_offset",
	"ops-addr":   "server.addr",
	"dev":        "logging.development",
}

// newRootCmd creates the root command and its stage subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "writeups",
		Short: "Builds a searchable index of CTF write-ups.",
		Long: `writeups downloads CTF write-up pages by numeric identifier, extracts
structured records from them, and loads the records into a search index.

Each stage can run on its own: fetch stores raw pages, build turns stored pages
into a JSON collection, load submits the collection in batches, and search runs
a sample query. run chains all four.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(opts.v, cmd.Flags())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	flags.Int("start", 0, "first identifier to fetch")
	flags.Int("end", 0, "identifier after the last one to fetch")
	flags.String("mode", "", "fetch mode: sequential or pooled")
	flags.Int("workers", 0, "fetch workers in pooled mode")
	flags.String("storage", "", "payload store backend: local, memory, gcs or badger")
	flags.String("dir", "", "payload directory for the local backend")
	flags.String("output", "", "path of the JSON collection artifact")
	flags.String("index", "", "search index backend: marqo or valkey")
	flags.String("index-name", "", "search index name")
	flags.String("endpoint", "", "search index endpoint for the marqo backend")
	flags.Int("batch-size", 0, "documents per index batch")
	flags.Int("offset", 0, "records to skip before loading")
	flags.String("ops-addr", "", "address for the ops HTTP server (disabled when empty)")
	flags.Bool("dev", false, "development logging")

	cmd.AddCommand(
		newStageCmd(opts, "run", "Fetch, build, load and verify in one go", pipeline.AllStages()),
		newStageCmd(opts, "fetch", "Download write-up pages into the payload store", pipeline.Stages{Fetch: true}),
		newStageCmd(opts, "build", "Extract records from stored pages into the collection", pipeline.Stages{Extract: true}),
		newStageCmd(opts, "load", "Submit the collection to the search index", pipeline.Stages{Load: true}),
		newSearchCmd(opts),
	)
	return cmd
}

// bindFlags binds every known flag so that only explicitly set flags override config.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "writeups: %v\n", err)
		os.Exit(1)
	}
}
