package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/coxstatus/internal/config"
	"github.com/goodtune/coxstatus/internal/errs"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check the portal credentials",
	Long: `Run the full login handshake against the portal and save the resulting
session, without fetching any usage.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadPortal(configPath, cmd.Flags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		return err
	}
	logger := commandLogger(cfg)

	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.auth.Login(context.Background()); err != nil {
		red := color.New(color.FgRed, color.Bold)
		_, _ = red.Fprintf(os.Stdout, "❌ Login failed for %s (%s)\n", cfg.Portal.Username, errs.KindOf(err))
		_, _ = fmt.Fprintf(os.Stdout, "   %v\n", err)
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	_, _ = green.Fprintf(os.Stdout, "✅ Logged in as %s\n", cfg.Portal.Username)
	_, _ = fmt.Fprintf(os.Stdout, "   %d cookies saved (%s session store)\n", len(a.session.Snapshot()), cfg.Session.Driver)
	return nil
}
