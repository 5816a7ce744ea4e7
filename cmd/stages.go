package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/writeup-search/internal/api"
	"github.com/JakeFAU/writeup-search/internal/app"
	"github.com/JakeFAU/writeup-search/internal/config"
	"github.com/JakeFAU/writeup-search/internal/logging"
	"github.com/JakeFAU/writeup-search/internal/pipeline"
)

func newStageCmd(opts *rootOptions, use, short string, stages pipeline.Stages) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStages(cmd, opts, stages)
		},
	}
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run a query against the search index",
		Long:  "search runs one query (the configured verification query when none is given) and reports the top hit.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.v.Set("verify.query", args[0])
			}
			if cmd.Flags().Changed("limit") {
				opts.v.Set("verify.limit", limit)
			}
			return runStages(cmd, opts, pipeline.Stages{Verify: true})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 1, "maximum number of hits")
	return cmd
}

// runStages loads configuration, builds the app and runs the selected stages.
// The ops server, when configured, lives exactly as long as the run.
func runStages(cmd *cobra.Command, opts *rootOptions, stages pipeline.Stages) error {
	cfg, err := config.LoadWith(opts.v, opts.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, stages, logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		if closeErr := application.Close(); closeErr != nil {
			logger.Warn("close application failed", zap.Error(closeErr))
		}
	}()

	p := application.Pipeline(stages)

	group, groupCtx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(groupCtx)
	defer stopServer()
	if cfg.Server.Addr != "" {
		server := api.NewServer(p, logger.Named("api"))
		group.Go(func() error {
			return server.ListenAndServe(serverCtx, cfg.Server.Addr)
		})
	}

	summary, runErr := p.Run(groupCtx, stages)
	stopServer()
	if err := group.Wait(); err != nil {
		logger.Warn("ops server stopped with error", zap.Error(err))
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		logger.Warn("print summary failed", zap.Error(err))
	}
	if runErr != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), runErr)
	}
	return nil
}
