package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/inboxpilot/internal/api"
	"github.com/nhle/inboxpilot/internal/sync"
)

const shutdownTimeout = 10 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background sync",
	Long: `Serve the JSON API on the configured address and, unless disabled in
the configuration, run a sync on the configured schedule.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"Listen address (default: api.addr from the configuration)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx, true)
	if err != nil {
		return requireSource(err)
	}
	defer rt.Close()

	addr := serveAddr
	if addr == "" {
		addr = rt.cfg.API.Addr
	}
	server := api.NewServer(addr, rt.svc, rt.log)

	if rt.cfg.Sync.Enabled {
		sched, err := sync.NewScheduler(
			rt.cfg.Sync.Schedule, sync.RunnerFunc(rt.svc.Sync), rt.log,
		)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err

	case <-ctx.Done():
		rt.log.Info("Shutting down")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
