package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/certpull/certpull/internal/discover"
	"github.com/certpull/certpull/internal/logging"
	"github.com/certpull/certpull/internal/transport"
)

var (
	discoverStart int64
	discoverEnd   int64
)

// newDiscoverCmd creates the 'discover' subcommand, which binary-searches a
// candidate ID range for its live boundaries.
func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find the live certificate ID range by binary search",
		Long: `Probes the registry for the first and last certificate IDs that resolve to
a live page. Run it before a full scrape so the scrape range covers only
IDs that can exist.`,
		RunE: runDiscoverCommand,
	}
	cmd.Flags().Int64Var(&discoverStart, "start", 1, "first ID of the search range")
	cmd.Flags().Int64Var(&discoverEnd, "end", 0, "last ID of the search range")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func runDiscoverCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	// Probes run one at a time; the binary search is sequential by nature.
	client, err := transport.New(transport.Config{
		UserAgent:         cfg.HTTP.UserAgent,
		Timeout:           cfg.RequestTimeout(),
		ConnectTimeout:    cfg.ConnectTimeout(),
		Concurrency:       1,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
	}, logger.Named("transport"))
	if err != nil {
		return fmt.Errorf("transport init failed: %w", err)
	}

	prober, err := discover.NewProber(cfg.Scrape.BaseURL, client, logger.Named("discover"))
	if err != nil {
		return fmt.Errorf("prober init failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := prober.FindRange(ctx, discoverStart, discoverEnd)
	if errors.Is(err, discover.ErrNoLiveIDs) {
		fmt.Fprintf(cmd.OutOrStdout(), "No live certificate IDs in [%d, %d].\n", discoverStart, discoverEnd)
		return nil
	}
	if err != nil {
		return fmt.Errorf("range discovery: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "First live ID: %d\n", r.First)
	fmt.Fprintf(out, "Last live ID:  %d\n", r.Last)
	fmt.Fprintf(out, "Span:          %d IDs (%d probes)\n", r.Count(), r.Probes)
	fmt.Fprintf(out, "\nScrape it with:\n  certpull scrape --start %d --end %d\n", r.First, r.Last)
	return nil
}
