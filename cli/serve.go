package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/digitorus/signflow/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the expiry sweeper",
	Long: `Serves the HTTP API on the configured address. Documents whose expiry
has passed are expired by a background sweep every sweep_interval; set it
to 0 to expire documents only when they are accessed.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := httpapi.New(a.workflow,
		httpapi.WithLogger(a.log.With().Str("component", "http").Logger()),
		httpapi.WithLinkBase(a.cfg.Links.BaseURL),
		httpapi.WithMaxUploadBytes(a.cfg.Server.MaxUploadBytes),
		httpapi.WithLinkRateLimit(a.cfg.Server.LinkRPS, a.cfg.Server.LinkBurst),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx, a.cfg.Server.Addr) })
	if a.cfg.Server.SweepInterval > 0 {
		g.Go(func() error { return a.workflow.RunSweeper(ctx, a.cfg.Server.SweepInterval) })
	}
	return g.Wait()
}
