package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"genflow/internal/api"
)

const promptColumnWidth = 48

func formatDisplayTime(value string) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDurationMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return d.String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func formatCost(cost *float64) string {
	if cost == nil {
		return "-"
	}
	return fmt.Sprintf("$%.4f", *cost)
}

func formatProgress(progress float64) string {
	if progress < 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", progress)
}

func recordOutcome(rec api.Record) string {
	switch {
	case rec.Error != "":
		return rec.Error
	case rec.Result == nil:
		return ""
	case rec.Result.ArtifactRef != "":
		return rec.Result.ArtifactRef
	default:
		return api.PromptPreview(rec.Result.Text, promptColumnWidth)
	}
}

func buildHistoryRows(items []api.Record, colorize bool) [][]string {
	rows := make([][]string, 0, len(items))
	for _, rec := range items {
		rows = append(rows, []string{
			api.ShortID(rec.ID),
			formatStatusLabel(rec.Kind),
			rec.Provider,
			colorStatus(rec.Status, colorize),
			api.PromptPreview(rec.Prompt, promptColumnWidth),
			formatDurationMillis(rec.DurationMillis),
			formatCost(rec.Cost),
			formatDisplayTime(rec.FinishedAt),
		})
	}
	return rows
}

var historyColumns = []column{
	{Header: "ID"},
	{Header: "Kind"},
	{Header: "Provider"},
	{Header: "Status"},
	{Header: "Prompt", MaxWidth: promptColumnWidth},
	{Header: "Duration", Align: alignRight},
	{Header: "Cost", Align: alignRight},
	{Header: "Finished"},
}

func buildActiveRows(items []api.ActiveGeneration, colorize bool) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			api.ShortID(item.ID),
			formatStatusLabel(item.Kind),
			item.Provider,
			colorStatus(item.Status, colorize),
			formatProgress(item.Progress),
			strconv.Itoa(len(item.StreamedContent)),
			formatDisplayTime(item.StartedAt),
		})
	}
	return rows
}

var activeColumns = []column{
	{Header: "ID"},
	{Header: "Kind"},
	{Header: "Provider"},
	{Header: "Status"},
	{Header: "Progress", Align: alignRight},
	{Header: "Streamed", Align: alignRight},
	{Header: "Started"},
}

// parseKeyValues converts repeated key=value flags into a parameter map.
// Values that parse as JSON numbers, booleans or null keep that type.
func parseKeyValues(raw map[string]string) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			switch decoded.(type) {
			case float64, bool, nil:
				out[key] = decoded
				continue
			}
		}
		out[key] = value
	}
	return out
}
