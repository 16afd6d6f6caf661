package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// AccountStatus is what the status command knows about one account.
type AccountStatus struct {
	Entity     string
	LastCheck  string
	Checkpoint string
	Retained   int
	TotalSent  int
	TypeCounts map[string]int
	// HistoryTotal is -1 when the send history is unavailable.
	HistoryTotal int64
	Recent       []string
	Problem      string
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#a6e3a1")).PaddingBottom(1)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#89dceb"))
	nameStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f5c2e7"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#b4befe")).Width(14)
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#cdd6f4"))
	problemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f38ba8"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cardStyle    = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			MarginBottom(1)
)

// RenderStatus draws one card per account.
func RenderStatus(stateDir string, accounts []AccountStatus) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("InstaWebhooks status") + "\n")
	sb.WriteString(headerStyle.Render("State directory: ") + valueStyle.Render(stateDir) + "\n\n")

	if len(accounts) == 0 {
		sb.WriteString(mutedStyle.Render("No accounts configured or checked yet.") + "\n")
		return sb.String()
	}
	for _, acc := range accounts {
		sb.WriteString(renderAccount(acc) + "\n")
	}
	return sb.String()
}

func renderAccount(acc AccountStatus) string {
	rows := []string{nameStyle.Render("@" + acc.Entity)}
	row := func(label, value string) {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(value)))
	}

	if acc.Problem != "" {
		rows = append(rows, problemStyle.Render(acc.Problem))
	}
	row("Last check", orDash(acc.LastCheck))
	row("Checkpoint", orDash(acc.Checkpoint))
	row("Total sent", fmt.Sprintf("%d (%d retained)", acc.TotalSent, acc.Retained))
	if len(acc.TypeCounts) > 0 {
		row("By type", formatCounts(acc.TypeCounts))
	}
	if acc.HistoryTotal >= 0 {
		row("History", fmt.Sprintf("%d unique posts", acc.HistoryTotal))
	}
	if len(acc.Recent) > 0 {
		row("Recent", strings.Join(acc.Recent, "\n"))
	}
	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func formatCounts(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s %d", name, counts[name])
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
