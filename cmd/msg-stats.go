package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/msg-to-json/config"
	"github.com/dhcgn/msg-to-json/filter"
	"github.com/dhcgn/msg-to-json/msgfile"
	"github.com/dhcgn/msg-to-json/normalize"
	"github.com/dhcgn/msg-to-json/scanner"
	"github.com/dhcgn/msg-to-json/stats"
)

// Fields tracked by the report, in print order.
var trackedFields = []string{"Sender", "Sender-Domain", "Recipients", "Subject"}

// Report holds the counters gathered by Analyze.
type Report struct {
	Counters map[string]stats.Counter
	Messages int
	Skipped  int
	Failed   int
}

func newReport() *Report {
	r := &Report{Counters: make(map[string]stats.Counter)}
	for _, field := range trackedFields {
		r.Counters[field] = stats.Counter{}
	}
	return r
}

// NewStatsCommand returns the msg-stats subcommand.
func NewStatsCommand() *cobra.Command {
	return newStatsCommand(msgfile.Parse)
}

func newStatsCommand(parse msgfile.Parser) *cobra.Command {
	var (
		reportDir string
		topN      int
		ext       string
		recursive bool
	)

	statsCmd := &cobra.Command{
		Use:   "msg-stats [input dir]",
		Short: "Analyse the message files and show statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Analyzing message files in:", args[0])

			filterOpts, err := config.LoadFilterFlags(cmd)
			if err != nil {
				return err
			}
			f, err := filter.New(filterOpts)
			if err != nil {
				return fmt.Errorf("create filter: %w", err)
			}

			paths, err := scanner.List(scanner.Options{Root: args[0], Extension: ext, Recursive: recursive})
			if err != nil {
				return err
			}

			report := Analyze(paths, parse, f, normalize.New(normalize.DefaultPolicy()), func(r *Report) {
				fmt.Fprintf(out, "Processed %d messages...\n", r.Messages+r.Skipped+r.Failed)
			})

			printReport(out, report, f, topN)

			if err := saveCSVReports(report, reportDir, 1000); err != nil {
				return fmt.Errorf("error saving CSV reports: %w", err)
			}

			fmt.Fprintf(out, "\nReports saved to directory: %s\n", reportDir)
			return nil
		},
	}

	statsCmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	statsCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	statsCmd.Flags().StringVarP(&ext, "ext", "e", ".msg", "File extension to analyse")
	statsCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Recursively scan subdirectories")
	config.RegisterFilterFlags(statsCmd)

	return statsCmd
}

// Analyze parses every path and counts the tracked fields of the messages
// that pass f. Unreadable files are counted and skipped. progress, when set,
// is called every 250 files.
func Analyze(paths []string, parse msgfile.Parser, f *filter.Filter, norm *normalize.Normalizer, progress func(*Report)) *Report {
	report := newReport()

	for i, path := range paths {
		if progress != nil && i > 0 && i%250 == 0 {
			progress(report)
		}

		msg, err := parse(path)
		if err != nil {
			report.Failed++
			continue
		}
		if !f.AllowsMessage(msg) {
			report.Skipped++
			continue
		}

		report.Messages++
		rec := norm.Message(msg)

		report.Counters["Sender"].Add(rec.Sender)
		if at := strings.LastIndex(rec.Sender, "@"); at >= 0 {
			report.Counters["Sender-Domain"].Add(strings.ToLower(rec.Sender[at+1:]))
		}
		for _, to := range rec.Recipients {
			report.Counters["Recipients"].Add(to)
		}
		report.Counters["Subject"].Add(rec.Subject)
	}

	return report
}

func printReport(out io.Writer, report *Report, f *filter.Filter, topN int) {
	total := report.Messages + report.Skipped
	var filterPercent float64
	if total > 0 {
		filterPercent = float64(report.Skipped) / float64(total) * 100
	}
	fmt.Fprintf(out, "Processed %d messages (skipped %d by filters, %.2f%%, %d unreadable)\n\n",
		report.Messages, report.Skipped, filterPercent, report.Failed)

	filterStats := f.Stats()
	sections := []struct {
		title    string
		patterns []filter.PatternStats
	}{
		{"Include Header Filters", filterStats.IncludeHeader},
		{"Include Body Filters", filterStats.IncludeBody},
		{"Exclude Header Filters", filterStats.ExcludeHeader},
		{"Exclude Body Filters", filterStats.ExcludeBody},
	}
	hasFilterStats := false
	for _, s := range sections {
		if len(s.patterns) == 0 {
			continue
		}
		hasFilterStats = true
		fmt.Fprintf(out, "%s:\n", s.title)
		printFilterHits(out, s.patterns)
		fmt.Fprintln(out)
	}
	if hasFilterStats {
		fmt.Fprintln(out, "---")
		fmt.Fprintln(out)
	}

	for _, field := range trackedFields {
		fmt.Fprintf(out, "Top %d %s:\n", topN, field)
		for i, p := range report.Counters[field].Top(topN) {
			fmt.Fprintf(out, "%d. %s (%d)\n", i+1, p.Key, p.Value)
		}
		fmt.Fprintln(out)
	}
}

func saveCSVReports(report *Report, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, field := range trackedFields {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeFieldName(field)))
		if err := writeCSV(filePath, report.Counters[field].Top(limit)); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(path string, pairs []stats.Pair) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeFieldName(field string) string {
	name := strings.ToLower(field)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func printFilterHits(out io.Writer, patterns []filter.PatternStats) {
	sorted := append([]filter.PatternStats(nil), patterns...)
	sort.Slice(sorted, func(i, j int) bool {
		// Sort by hit count descending, then by pattern
		if sorted[i].Hits != sorted[j].Hits {
			return sorted[i].Hits > sorted[j].Hits
		}
		return sorted[i].Pattern < sorted[j].Pattern
	})

	for _, p := range sorted {
		if p.Hits > 0 {
			fmt.Fprintf(out, "  ✓ %s: %d hits\n", p.Pattern, p.Hits)
		} else {
			fmt.Fprintf(out, "  ✗ %s: 0 hits\n", p.Pattern)
		}
	}
}
