package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Faint(true).Width(22)
	titleStyle  = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func renderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Faint(true)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}

type field struct {
	label, value string
}

func renderFields(w io.Writer, title string, fields []field) {
	if title != "" {
		fmt.Fprintln(w, titleStyle.Render(title))
	}
	for _, f := range fields {
		fmt.Fprintln(w, labelStyle.Render(f.label)+f.value)
	}
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func statusBadge(s domain.AccountStatus) string {
	switch s {
	case domain.StatusActive:
		return okStyle.Render(string(s))
	case domain.StatusError:
		return errStyle.Render(string(s))
	}
	return warnStyle.Render(string(s))
}

func yesNo(b bool) string {
	if b {
		return okStyle.Render("yes")
	}
	return errStyle.Render("no")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return "-"
	case len(s) <= 8:
		return "****"
	}
	return s[:4] + "****"
}
