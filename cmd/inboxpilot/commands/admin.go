package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/inboxpilot/internal/theme"
)

var cleanupDays int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show counts of stored, filtered and replied messages",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete messages older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0,
		"Delete messages received more than this many days ago "+
			"(default: retention.days from the configuration)")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	stats, err := rt.svc.Stats(ctx)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(stats)
	}
	fmt.Print(formatStats(stats))
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	days := cleanupDays
	if days <= 0 {
		days = rt.cfg.Retention.Days
	}

	n, err := rt.svc.Cleanup(ctx, days)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(map[string]int64{"deleted": n})
	}
	fmt.Println(theme.OKStyle.Render(fmt.Sprintf("✓ Deleted %d messages", n)))
	return nil
}
