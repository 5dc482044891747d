package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gisauth/internal/identity"
	"gisauth/internal/storage"
	"gisauth/pkg/logging"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			m, err := rt.loadSession()
			if errors.Is(err, errNoSession) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", text.FgYellow.Sprint("Not signed in"))
				return err
			}
			if err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), m, storage.Describe(rt.store), time.Now())
			return nil
		},
	}
}

// renderStatus writes a table describing m, saved in storedIn, as of now.
func renderStatus(w io.Writer, m *identity.Manager, storedIn string, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Property", "Value"})

	t.AppendRow(table.Row{"Portal", m.Portal()})
	t.AppendRow(table.Row{"User", orDash(m.Username())})
	t.AppendRow(table.Row{"Sign-in", m.Mode()})
	t.AppendRow(table.Row{"Client ID", orDash(m.ClientID())})
	if m.Server() != "" {
		t.AppendRow(table.Row{"Server", m.Server()})
	}
	t.AppendRow(table.Row{"Token", orDash(logging.TruncateToken(m.Token()))})
	t.AppendRow(table.Row{"Status", tokenStatus(m)})
	t.AppendRow(table.Row{"Expires", formatExpiry(m.TokenExpires(), now)})
	if m.RefreshToken() != "" {
		t.AppendRow(table.Row{"Refresh token expires", formatExpiry(m.RefreshTokenExpires(), now)})
	}
	if m.CanRefresh() {
		t.AppendRow(table.Row{"Refresh", text.FgGreen.Sprint("Available")})
	} else {
		t.AppendRow(table.Row{"Refresh", text.FgYellow.Sprint("Not available (sign in again on expiry)")})
	}
	t.AppendRow(table.Row{"Stored in", storedIn})
	t.Render()
}

func tokenStatus(m *identity.Manager) string {
	switch {
	case m.Token() == "":
		return text.FgYellow.Sprint("No token yet")
	case m.IsTokenExpired():
		return text.FgRed.Sprint("Expired")
	default:
		return text.FgGreen.Sprint("Valid")
	}
}

func formatExpiry(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	local := t.Local().Format(time.RFC3339)
	if t.Before(now) {
		return fmt.Sprintf("%s (%s ago)", local, now.Sub(t).Round(time.Minute))
	}
	return fmt.Sprintf("%s (in %s)", local, t.Sub(now).Round(time.Minute))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
