package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/spf13/cobra"

	"github.com/nhle/inboxpilot/internal/app"
	"github.com/nhle/inboxpilot/internal/model"
	"github.com/nhle/inboxpilot/internal/theme"
)

var (
	listAll       bool
	listUnreplied bool
	listQuery     string
	listLimit     int
	listOffset    int

	replyMessage string
	replyYes     bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored messages, newest first",
	Long:  `List stored messages. By default only relevant messages are shown.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a message with its summary and draft reply",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <id>",
	Short: "Draft a fresh reply for a message",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegenerate,
}

var refineCmd = &cobra.Command{
	Use:   "refine <id> [instruction]",
	Short: "Rewrite the draft reply, optionally following an instruction",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRefine,
}

var replyCmd = &cobra.Command{
	Use:   "reply <id>",
	Short: "Send a reply",
	Long: `Send a reply to a message. Without --message the stored draft is
sent after confirmation.`,
	Args: cobra.ExactArgs(1),
	RunE: runReply,
}

func init() {
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false,
		"Include filtered and unclassified messages")
	listCmd.Flags().BoolVarP(&listUnreplied, "unreplied", "u", false,
		"Only show messages without a sent reply")
	listCmd.Flags().StringVarP(&listQuery, "query", "q", "",
		"Match subject, sender or body")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20,
		"Maximum number of messages to display")
	listCmd.Flags().IntVar(&listOffset, "offset", 0,
		"Number of messages to skip")

	replyCmd.Flags().StringVarP(&replyMessage, "message", "m", "",
		"Reply text (default: the stored draft)")
	replyCmd.Flags().BoolVarP(&replyYes, "yes", "y", false,
		"Send without asking for confirmation")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	f := app.Filter{
		Relevance: fn.Some(model.RelevanceRelevant),
		Replied:   fn.None[bool](),
		Query:     listQuery,
		Limit:     listLimit,
		Offset:    listOffset,
	}
	if listAll {
		f.Relevance = fn.None[model.Relevance]()
	}
	if listUnreplied {
		f.Replied = fn.Some(false)
	}

	msgs, err := rt.svc.ListMessages(ctx, f)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(msgs)
	}
	if len(msgs) == 0 {
		fmt.Println(theme.HelpStyle.Render("No messages."))
		return nil
	}
	for _, m := range msgs {
		fmt.Println(formatSummaryRow(m))
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	m, err := rt.svc.GetMessage(ctx, args[0])
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(m)
	}
	fmt.Print(formatMessage(m))
	return nil
}

func runRegenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	draft, err := rt.svc.RegenerateDraft(ctx, args[0])
	if err != nil {
		return err
	}

	return printDraft(args[0], draft)
}

func runRefine(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	instruction := ""
	if len(args) == 2 {
		instruction = args[1]
	}

	draft, err := rt.svc.RefineDraft(ctx, args[0], instruction)
	if err != nil {
		return err
	}

	return printDraft(args[0], draft)
}

func printDraft(id, draft string) error {
	if outputFormat == "json" {
		return outputJSON(map[string]string{"id": id, "draft_reply": draft})
	}
	fmt.Println(theme.PanelStyle.Render(draft))
	return nil
}

func runReply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := args[0]

	rt, err := newRuntime(ctx, true)
	if err != nil {
		return requireSource(err)
	}
	defer rt.Close()

	content := replyMessage
	if strings.TrimSpace(content) == "" {
		m, err := rt.svc.GetMessage(ctx, id)
		if err != nil {
			return err
		}
		if m.DraftReply == nil {
			return fmt.Errorf("message %s has no draft; pass --message: %w",
				id, model.ErrEmptyReply)
		}
		content = *m.DraftReply

		if !replyYes {
			fmt.Println(theme.PanelStyle.Render(content))

			send := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Send this reply to %s?", m.SenderAddress)).
				Affirmative("Send").
				Negative("Cancel").
				Value(&send).
				Run()
			if errors.Is(err, huh.ErrUserAborted) || (err == nil && !send) {
				fmt.Println(theme.HelpStyle.Render("Not sent."))
				return nil
			}
			if err != nil {
				return err
			}
		}
	}

	if err := rt.svc.SendReply(ctx, id, content); err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(map[string]any{"id": id, "has_reply": true})
	}
	fmt.Println(theme.OKStyle.Render("✓ Reply sent"))
	return nil
}
