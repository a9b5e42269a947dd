package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/goodtune/coxstatus/internal/bytesize"
	"github.com/goodtune/coxstatus/internal/config"
	"github.com/goodtune/coxstatus/internal/poller"
	"github.com/goodtune/coxstatus/internal/session"
	"github.com/goodtune/coxstatus/internal/sink"
	"github.com/goodtune/coxstatus/internal/usage"
)

var (
	oncePublish bool
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single poll cycle and print the records",
	Long:  `Fetch usage once, print the normalized records and optionally publish them.`,
	Example: `  coxstatus once -u user@example.com -p secret
  coxstatus -c /etc/coxstatus/config.yaml once --publish`,
	RunE: runOnce,
}

func init() {
	onceCmd.Flags().BoolVar(&oncePublish, "publish", false, "Also publish the records to the configured sinks")
	rootCmd.AddCommand(onceCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	load := config.LoadPortal
	if oncePublish {
		load = config.Load
	}
	cfg, err := load(configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := commandLogger(cfg)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var sinks sink.Multi
	if oncePublish {
		var closeSinks func()
		sinks, closeSinks = openSinks(ctx, cfg, logger)
		defer closeSinks()
	}

	p := poller.New(
		a.fetcher,
		usage.NewNormalizer(usage.RealClock{}, logger),
		sinks,
		a.session,
		poller.Options{Period: cfg.Portal.UsagePeriod},
		logger,
	)

	result, err := p.Collect(ctx)
	if err != nil {
		return err
	}
	if result.ResetSession {
		return dropSession(ctx, a.store, result.Reason)
	}

	renderRecords(os.Stdout, result.Records)

	if oncePublish {
		n, err := sinks.Publish(ctx, result.Records)
		if err != nil {
			return fmt.Errorf("failed to publish: %w", err)
		}
		fmt.Fprintf(os.Stdout, "\nPublished %d records to %s\n", n, sinks.Name())
	}
	return nil
}

// dropSession deletes the persisted session after a portal reported error so
// the next run logs in from scratch. The returned error carries reason.
func dropSession(ctx context.Context, store *session.Store, reason error) error {
	if err := store.Purge(ctx); err != nil {
		return errors.Join(reason, err)
	}
	return fmt.Errorf("login session dropped, try again: %w", reason)
}

// renderRecords prints records as a table, one row per record.
func renderRecords(w io.Writer, records []usage.Record) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Measurement", "Time", "Tags", "Fields"})
	table.SetAutoWrapText(false)

	for _, r := range records {
		table.Append([]string{
			r.Measurement,
			r.Time.Format(time.RFC3339),
			formatTags(r.Tags),
			formatFields(r.Fields),
		})
	}
	table.Render()
}

func formatTags(tags map[string]string) string {
	keys := lo.Keys(tags)
	sort.Strings(keys)
	return strings.Join(lo.Map(keys, func(k string, _ int) string {
		return k + "=" + tags[k]
	}), " ")
}

func formatFields(fields map[string]any) string {
	keys := lo.Keys(fields)
	sort.Strings(keys)
	return strings.Join(lo.Map(keys, func(k string, _ int) string {
		switch v := fields[k].(type) {
		case int64:
			return fmt.Sprintf("%s=%d (%s)", k, v, bytesize.Format(v))
		case float64:
			return fmt.Sprintf("%s=%g", k, v)
		default:
			return fmt.Sprintf("%s=%v", k, v)
		}
	}), " ")
}
