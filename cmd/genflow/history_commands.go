package main

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"genflow/internal/api"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		kinds      []string
		providers  []string
		statuses   []string
		templateID string
		brandID    string
		since      string
		until      string
		offset     int
		limit      int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query finished generations, newest first",
		Example: `  genflow history --kind image --status failed
  genflow history --brand acme --since 24h --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			values := url.Values{}
			for _, kind := range kinds {
				values.Add("kind", kind)
			}
			for _, provider := range providers {
				values.Add("provider", provider)
			}
			for _, status := range statuses {
				values.Add("status", status)
			}
			values.Set("template", templateID)
			values.Set("brand", brandID)
			now := time.Now()
			sinceValue, err := resolveTimeFlag(since, now)
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			untilValue, err := resolveTimeFlag(until, now)
			if err != nil {
				return fmt.Errorf("invalid --until: %w", err)
			}
			values.Set("since", sinceValue)
			values.Set("until", untilValue)
			values.Set("offset", strconv.Itoa(offset))
			values.Set("limit", strconv.Itoa(limit))

			filter, err := api.ParseFilter(values)
			if err != nil {
				return err
			}

			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.History(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "No generations match")
					return nil
				}
				fmt.Fprintln(out, renderTable(historyColumns, buildHistoryRows(resp.Items, shouldColorize(out))))
				fmt.Fprintf(out, "Showing %d-%d of %d\n", resp.Offset+1, resp.Offset+len(resp.Items), resp.Total)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&kinds, "kind", nil, "Filter by kind (repeatable or comma separated)")
	flags.StringSliceVar(&providers, "provider", nil, "Filter by provider")
	flags.StringSliceVar(&statuses, "status", nil, "Filter by status: completed, failed or cancelled")
	flags.StringVar(&templateID, "template", "", "Filter by template id")
	flags.StringVar(&brandID, "brand", "", "Filter by brand id")
	flags.StringVar(&since, "since", "", "Only records created at or after this time (RFC3339 or a duration like 24h)")
	flags.StringVar(&until, "until", "", "Only records created at or before this time (RFC3339 or a duration like 1h)")
	flags.IntVar(&offset, "offset", 0, "Skip this many matches")
	flags.IntVarP(&limit, "limit", "n", 20, "Maximum records to show (0 for all)")
	flags.BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// resolveTimeFlag accepts an RFC3339 timestamp or a duration measured back
// from now and returns the RFC3339 form.
func resolveTimeFlag(value string, now time.Time) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return now.Add(-d).UTC().Format(time.RFC3339), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return "", fmt.Errorf("expected RFC3339 timestamp or duration, got %q", value)
	}
	return t.UTC().Format(time.RFC3339), nil
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize generation history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				stats, err := client.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, stats)
				}
				printStats(cmd, stats)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printStats(cmd *cobra.Command, stats api.Stats) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Totals", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderKeyValue("Generations", strconv.Itoa(stats.Total)))
	fmt.Fprintln(out, renderKeyValue("Total cost", fmt.Sprintf("$%.4f", stats.TotalCost)))
	if stats.CostSamples > 0 {
		fmt.Fprintln(out, renderKeyValue("Average cost", fmt.Sprintf("$%.4f (%d priced)", stats.AverageCost, stats.CostSamples)))
	}
	fmt.Fprintln(out, renderKeyValue("Total time", formatDurationMillis(stats.TotalDurationMillis)))
	fmt.Fprintln(out, renderKeyValue("Average time", formatDurationMillis(stats.AverageDurationMillis)))

	sections := []struct {
		title  string
		counts map[string]int
		status bool
	}{
		{"By status", stats.ByStatus, true},
		{"By kind", stats.ByKind, false},
		{"By provider", stats.ByProvider, false},
	}
	for _, section := range sections {
		if len(section.counts) == 0 {
			continue
		}
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader(section.title, colorize) {
			fmt.Fprintln(out, line)
		}
		keys := make([]string, 0, len(section.counts))
		for key := range section.counts {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			label := formatStatusLabel(key)
			if section.status {
				label = colorStatus(key, colorize)
			}
			fmt.Fprintln(out, renderKeyValue(label, strconv.Itoa(section.counts[key])))
		}
	}
}

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var (
		since  uint64
		limit  int
		follow bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show engine lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				cursor := since
				wait := false
				for {
					resp, err := client.Events(cmd.Context(), cursor, limit, wait)
					if err != nil {
						if follow && cmd.Context().Err() != nil {
							return nil
						}
						return err
					}
					for _, evt := range resp.Events {
						if asJSON {
							if err := writeJSONLine(cmd, evt); err != nil {
								return err
							}
							continue
						}
						fmt.Fprintln(cmd.OutOrStdout(), formatEvent(evt))
					}
					cursor = resp.Next
					if !follow {
						return nil
					}
					wait = true
				}
			})
		},
	}
	flags := cmd.Flags()
	flags.Uint64Var(&since, "since", 0, "Only events after this sequence number")
	flags.IntVarP(&limit, "limit", "n", 50, "Maximum events per fetch")
	flags.BoolVarP(&follow, "follow", "f", false, "Keep waiting for new events")
	flags.BoolVar(&asJSON, "json", false, "Output one JSON object per event")
	return cmd
}

func formatEvent(evt api.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%6d %s %-20s %s", evt.Sequence, formatDisplayTime(evt.Time), evt.Type, api.ShortID(evt.JobID))
	if evt.From != "" || evt.To != "" {
		fmt.Fprintf(&b, " %s->%s", evt.From, evt.To)
	}
	if evt.ErrorKind != "" {
		fmt.Fprintf(&b, " [%s]", evt.ErrorKind)
	}
	if evt.Message != "" {
		fmt.Fprintf(&b, " %s", evt.Message)
	}
	return b.String()
}
