// Package render formats command output for the terminal. Everything here is
// one-shot printing; there is no interactive UI.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dtran/mailtrack/internal/journal"
	"github.com/dtran/mailtrack/internal/model"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
	openStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	coldStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// Status renders the open state of a single tracked email.
func Status(t *model.Track) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(t.Subject))
	b.WriteString("\n")
	fmt.Fprintf(&b, "to %s  %s\n", t.Recipient, dimStyle.Render(t.TrackingID))

	if t.OpenCount == 0 {
		b.WriteString(coldStyle.Render("not opened yet"))
		b.WriteString("\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%s\n", openStyle.Render(fmt.Sprintf("opened %d time(s)", t.OpenCount)))
	for _, o := range t.Opens {
		fmt.Fprintf(&b, "  %s  %s\n", o.Timestamp.Local().Format(time.RFC822), o.Device)
	}
	return b.String()
}

// Dashboard renders aggregate stats followed by the recent tracks.
func Dashboard(d *model.Dashboard) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s  sent %d, opened %d (%.0f%%)\n\n",
		titleStyle.Render("Dashboard"),
		d.Stats.TotalSent, d.Stats.TotalOpened, d.Stats.OpenRate*100,
	)

	if len(d.Tracks) == 0 {
		b.WriteString(dimStyle.Render("no tracked sends yet"))
		b.WriteString("\n")
		return b.String()
	}

	for _, t := range d.Tracks {
		marker := coldStyle.Render("–")
		if t.OpenCount > 0 {
			marker = openStyle.Render(fmt.Sprintf("%d", t.OpenCount))
		}
		fmt.Fprintf(&b, "%s  %-30s  %s  %s\n",
			marker, t.Recipient, t.Subject, dimStyle.Render(t.TrackingID))
	}
	return b.String()
}

// History renders locally journaled sends.
func History(entries []journal.Entry) string {
	if len(entries) == 0 {
		return dimStyle.Render("no journaled sends") + "\n"
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s  %-5s  %-30s  %s  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.Kind, e.Recipient, e.Subject, dimStyle.Render(e.TrackingID))
	}
	return b.String()
}

// Whoami renders the authenticated identity and provisioning state.
func Whoami(cred *model.Credential) string {
	switch {
	case cred == nil || cred.Tokens.RefreshToken == "":
		return "not logged in; run: mailtrack login\n"
	case cred.PartiallyProvisioned():
		return fmt.Sprintf("%s (tracking backend not provisioned; run: mailtrack login)\n", cred.Email)
	default:
		return fmt.Sprintf("%s (device %s)\n", cred.Email, cred.DeviceID)
	}
}
