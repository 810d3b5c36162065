package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenNSW/pipeline/internal/report"
)

var (
	stalePipeline string
	staleDays     int
)

var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List entities stuck in a non-final state",
	RunE:  runStale,
}

func init() {
	staleCmd.Flags().StringVarP(&stalePipeline, "pipeline", "p", "", "Only report the pipeline with this code")
	staleCmd.Flags().IntVar(&staleDays, "days", 0, "Days without a transition (default: pipeline.stale_report_days)")
}

func runStale(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp()

	days := staleDays
	if days <= 0 {
		days = a.Config.Pipeline.StaleReportDays
	}
	entries, err := report.NewStaleReporter(a.Store, a.Query, days).Run(cmd.Context())
	if err != nil {
		return err
	}
	return printStale(cmd.OutOrStdout(), filterStale(entries, stalePipeline))
}

func filterStale(entries []report.StaleEntry, code string) []report.StaleEntry {
	if code == "" {
		return entries
	}
	var filtered []report.StaleEntry
	for _, e := range entries {
		if e.PipelineCode == code {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func printStale(out io.Writer, entries []report.StaleEntry) error {
	if outputFmt == "json" || outputFmt == "yaml" {
		if entries == nil {
			entries = []report.StaleEntry{}
		}
		return printOutput(out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No stale entities.")
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		ids := make([]string, 0, len(e.EntityIDs))
		for _, id := range e.EntityIDs {
			ids = append(ids, strconv.FormatUint(id, 10))
		}
		rows = append(rows, []string{e.PipelineCode, e.EntityType, strconv.Itoa(e.Count), truncate(strings.Join(ids, ","), 40)})
	}
	printTable(out, []string{"Pipeline", "Entity Type", "Count", "Entity IDs"}, rows)
	return nil
}
