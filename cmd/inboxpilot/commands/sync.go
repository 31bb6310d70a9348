package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch, classify, summarize and draft new mail once",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the mail login and the model server",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx, true)
	if err != nil {
		return requireSource(err)
	}
	defer rt.Close()

	res, err := rt.svc.Sync(ctx)
	if err != nil {
		return requireSource(err)
	}

	if outputFormat == "json" {
		return outputJSON(res)
	}
	fmt.Print(formatResult(res))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx, true)
	if err != nil {
		return requireSource(err)
	}
	defer rt.Close()

	st, err := rt.svc.GetStatus(ctx)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(st)
	}
	fmt.Print(formatStatus(st))
	return nil
}
