package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inboxpilot/internal/app"
	"github.com/nhle/inboxpilot/internal/model"
	"github.com/nhle/inboxpilot/internal/store"
	"github.com/nhle/inboxpilot/internal/sync"
	"github.com/nhle/inboxpilot/internal/theme"
)

const timeLayout = "2006-01-02 15:04"

var (
	idStyle      = lipgloss.NewStyle().Width(18).Foreground(theme.ColorBlue)
	senderStyle  = lipgloss.NewStyle().Width(24)
	subjectStyle = lipgloss.NewStyle().Width(48)
)

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func field(label, value string) string {
	return theme.LabelStyle.Render(label) + value + "\n"
}

func formatSummaryRow(m app.MessageSummary) string {
	marker := " "
	switch {
	case m.HasReply:
		marker = theme.OKStyle.Render("✓")
	case m.HasDraft:
		marker = theme.HelpStyle.Render("✎")
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		idStyle.Render(clip(m.ID, 17)),
		theme.PriorityStyle(m.Priority).Width(8).Render(string(m.Priority)),
		senderStyle.Render(clip(m.SenderName, 23)),
		subjectStyle.Render(clip(m.Subject, 47)),
		m.ReceivedAt.Local().Format(timeLayout), " ", marker,
	)
}

func formatMessage(m *model.Message) string {
	var sb strings.Builder

	sb.WriteString(theme.HeaderStyle.Render(m.Subject) + "\n\n")
	sb.WriteString(field("ID", m.ID))
	sb.WriteString(field("Thread", m.ThreadID))
	sb.WriteString(field("From", fmt.Sprintf("%s <%s>", m.SenderName, m.SenderAddress)))
	sb.WriteString(field("Received", m.ReceivedAt.Local().Format(timeLayout)))
	sb.WriteString(field("Relevance", string(m.Relevance)))
	if m.Rationale != "" {
		sb.WriteString(field("Why", theme.HelpStyle.Render(m.Rationale)))
	}
	sb.WriteString(field("Priority",
		theme.PriorityStyle(m.Priority).Render(string(m.Priority))))
	sb.WriteString(field("State", theme.StateStyle(m.State).Render(string(m.State))))
	replied := m.HasReply
	sb.WriteString(field("Replied", theme.Flag(&replied)))
	if m.LastError != "" {
		sb.WriteString(field("Error", theme.ErrorStyle.Render(m.LastError)))
	}

	if m.Summary != nil {
		sb.WriteString("\n" + theme.PanelStyle.Render(*m.Summary) + "\n")
	}
	if m.DraftReply != nil {
		sb.WriteString("\n" + theme.HelpStyle.Render("Draft reply") + "\n")
		sb.WriteString(theme.PanelStyle.Render(*m.DraftReply) + "\n")
	}

	return sb.String()
}

func formatStatus(st *app.Status) string {
	var sb strings.Builder

	sb.WriteString(theme.HeaderStyle.Render("Status") + "\n\n")

	var auth, inf *bool
	st.Authenticated.WhenSome(func(v bool) { auth = &v })
	st.InferenceAvailable.WhenSome(func(v bool) { inf = &v })

	account := ""
	if st.Account != "" {
		account = " " + theme.HelpStyle.Render("("+st.Account+")")
	}
	sb.WriteString(field("Mail", theme.Flag(auth)+account))
	sb.WriteString(field("Model", theme.Flag(inf)))

	last := theme.HelpStyle.Render("never")
	st.LastSync.WhenSome(func(t time.Time) {
		last = t.Local().Format(timeLayout)
	})
	sb.WriteString(field("Last sync", last))

	return sb.String()
}

func formatResult(res *sync.Result) string {
	return theme.OKStyle.Render("✓ ") + res.Message + "\n"
}

func formatStats(s *store.Stats) string {
	var sb strings.Builder

	sb.WriteString(theme.HeaderStyle.Render("Inbox stats") + "\n\n")
	sb.WriteString(field("Total", fmt.Sprint(s.Total)))
	sb.WriteString(field("Relevant", fmt.Sprint(s.Relevant)))
	sb.WriteString(field("Filtered", fmt.Sprint(s.Filtered)))
	sb.WriteString(field("Errored", fmt.Sprint(s.Errored)))
	sb.WriteString(field("Replied", fmt.Sprintf("%d (%.1f%%)", s.Replied, s.ReplyRate)))
	sb.WriteString(field("Unreplied", fmt.Sprint(s.Unreplied)))
	sb.WriteString(field("Last 24h", fmt.Sprint(s.Recent)))

	for _, p := range []model.Priority{
		model.PriorityHigh, model.PriorityNormal, model.PriorityLow,
	} {
		sb.WriteString(field(string(p),
			theme.PriorityStyle(p).Render(fmt.Sprint(s.ByPriority[p]))))
	}

	if len(s.TopSenders) > 0 {
		sb.WriteString("\n" + theme.HelpStyle.Render("Top senders") + "\n")
		for _, sc := range s.TopSenders {
			fmt.Fprintf(&sb, "  %-36s %d\n", sc.Sender, sc.Count)
		}
	}

	return sb.String()
}
