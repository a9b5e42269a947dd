package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/goodtune/coxstatus/internal/config"
	"github.com/goodtune/coxstatus/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or drop the saved login session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the cookies of the saved login session",
	RunE:  runSessionShow,
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the saved login session",
	Long:  `Delete the saved login session so the next poll logs in from scratch.`,
	RunE:  runSessionClear,
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)
	rootCmd.AddCommand(sessionCmd)
}

// openStore returns the session store for the configured account and a
// description of where it lives.
func openStore(cmd *cobra.Command) (*config.Config, *session.Store, string, error) {
	cfg, err := config.LoadPortal(configPath, cmd.Flags())
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to load configuration: %w", err)
	}
	backend, err := openSessionStore(cfg.Session, cfg.Portal.Username)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to open session store: %w", err)
	}
	return cfg, session.NewStore(backend, commandLogger(cfg)), storeLocation(cfg.Session, backend), nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	cfg, store, location, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	sess := store.Load(context.Background())
	if sess.Empty() {
		_, _ = fmt.Fprintf(os.Stdout, "No saved login session for %s in %s\n", cfg.Portal.Username, location)
		return nil
	}

	_, _ = fmt.Fprintf(os.Stdout, "Login session for %s (%s)\n", cfg.Portal.Username, location)

	renderCookies(os.Stdout, sess.Snapshot(), time.Now())
	if !sess.Has(cfg.Portal.LoginCookie, cfg.Portal.LoginCookieDomain) {
		yellow := color.New(color.FgYellow)
		_, _ = yellow.Fprintf(os.Stdout, "⚠️  Session has no %s cookie, the next poll will log in again\n", cfg.Portal.LoginCookie)
	}
	return nil
}

func runSessionClear(cmd *cobra.Command, args []string) error {
	cfg, store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Purge(context.Background()); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "✅ Login session for %s cleared\n", cfg.Portal.Username)
	return nil
}

// renderCookies prints cookies with their values redacted.
func renderCookies(w io.Writer, cookies []session.Cookie, now time.Time) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Domain", "Path", "Name", "Value", "Expires"})
	table.SetAutoWrapText(false)

	for _, c := range cookies {
		expires := "session"
		if !c.Expires.IsZero() {
			expires = humanize.RelTime(c.Expires, now, "ago", "from now")
		}
		table.Append([]string{c.Domain, c.Path, c.Name, redact(c.Value), expires})
	}
	table.Render()
}

func redact(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:4] + "****"
}
