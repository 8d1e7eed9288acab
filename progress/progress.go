package progress

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/msg-to-json/stats"
)

// Bar manages a progress bar for tracking message conversion.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	scanned int
	skipped []string
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar over total files. A disabled bar only keeps
// counts.
func New(total int, enabled bool) *Bar {
	bar := &Bar{
		total:   total,
		enabled: enabled && total > 0,
	}

	if bar.enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Converting messages").
			Start()
		bar.pb = pb

		pterm.Info.Printf("Message files found: %d\n", total)
		pterm.Println()
	}

	return bar
}

// Update advances the bar based on the event type.
func (b *Bar) Update(evt stats.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.scanned++
		if b.pb == nil {
			return
		}
		b.pb.Increment()
		if name := filepath.Base(evt.File); evt.File != "" {
			if len(name) > 40 {
				name = name[:37] + "..."
			}
			b.pb.UpdateTitle("Converting: " + name)
		}
	case stats.EventTypeError:
		b.skipped = append(b.skipped, evt.File)
		if b.pb != nil && evt.Err != nil {
			// Printed above the bar
			pterm.Warning.Printf("Skipped %s: %v\n", filepath.Base(evt.File), evt.Err)
		}
	}
}

// Scanned returns the number of files seen so far.
func (b *Bar) Scanned() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scanned
}

// Skipped returns the files that failed, in the order they were reported.
func (b *Bar) Skipped() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.skipped...)
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb == nil {
		return
	}

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	_, _ = b.pb.Stop()
	b.pb = nil
	pterm.Success.Println("Conversion complete!")
}

// Subscriber updates the bar from the event stream and stops it once the
// stream closes.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// ProgressReporter drives the bar and prints a summary section when the run
// ends.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewProgressReporter subscribes the bar and its summary to stream. Nothing is
// subscribed when the bar is disabled.
func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)

	summary := pr.collector.Snapshot()
	duration := time.Since(pr.started).Round(time.Millisecond)

	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	pterm.Info.Printf("Duration: %v\n", duration)
	pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
	pterm.Info.Printf("Parsed: %d\n", summary.Parsed)
	pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
	pterm.Info.Printf("Written: %d\n", summary.Written)
	pterm.Info.Printf("Attachments: %d\n", summary.Attachments)
	pterm.Info.Printf("Skipped (errors): %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}

	return nil
}
