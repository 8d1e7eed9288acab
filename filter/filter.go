package filter

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/dhcgn/msg-to-json/model"
	"github.com/dhcgn/msg-to-json/normalize"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

type rule struct {
	re   *regexp.Regexp
	hits int
}

// Filter holds compiled regex patterns for filtering messages.
type Filter struct {
	mu             sync.Mutex
	includeMode    bool
	excludeMode    bool
	includeHeader  []*rule
	includeBody    []*rule
	excludeHeader  []*rule
	excludeBody    []*rule
	needHeaderText bool
	needBodyText   bool
	allowed        int
	rejected       int
}

// PatternStats reports how often a single pattern decided the outcome.
type PatternStats struct {
	Pattern string
	Hits    int
}

// Stats is a snapshot of the filter counters.
type Stats struct {
	IncludeHeader []PatternStats
	IncludeBody   []PatternStats
	ExcludeHeader []PatternStats
	ExcludeBody   []PatternStats
	Allowed       int
	Rejected      int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeHeader:  includeHeader,
		includeBody:    includeBody,
		excludeHeader:  excludeHeader,
		excludeBody:    excludeBody,
		needHeaderText: len(includeHeader) > 0 || len(excludeHeader) > 0,
		needBodyText:   len(includeBody) > 0 || len(excludeBody) > 0,
	}, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f.includeMode || f.excludeMode
}

// AllowsMessage applies the filter to the header block and bodies of msg.
func (f *Filter) AllowsMessage(msg model.Message) bool {
	var header, body string
	if f.needHeaderText {
		header = normalize.HeaderBlock(msg)
	}
	if f.needBodyText {
		body = msg.Body + "\n" + msg.HTMLBody
	}
	return f.Allows(header, body)
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(header, body string) bool {
	if !f.needHeaderText {
		header = ""
	}
	if !f.needBodyText {
		body = ""
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ok := true
	switch {
	case f.includeMode:
		ok = matchAny(f.includeHeader, header) || matchAny(f.includeBody, body)
	case f.excludeMode:
		ok = !(matchAny(f.excludeHeader, header) || matchAny(f.excludeBody, body))
	}

	if ok {
		f.allowed++
	} else {
		f.rejected++
	}
	return ok
}

// Stats returns the current pattern hit counts.
func (f *Filter) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	return Stats{
		IncludeHeader: snapshot(f.includeHeader),
		IncludeBody:   snapshot(f.includeBody),
		ExcludeHeader: snapshot(f.excludeHeader),
		ExcludeBody:   snapshot(f.excludeBody),
		Allowed:       f.allowed,
		Rejected:      f.rejected,
	}
}

func snapshot(rules []*rule) []PatternStats {
	out := make([]PatternStats, 0, len(rules))
	for _, r := range rules {
		out = append(out, PatternStats{Pattern: r.re.String(), Hits: r.hits})
	}
	return out
}

func compilePatterns(patterns []string) ([]*rule, error) {
	compiled := make([]*rule, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, &rule{re: re})
	}
	return compiled, nil
}

// matchAny counts a hit on the first matching pattern only.
func matchAny(rules []*rule, text string) bool {
	for _, r := range rules {
		if r.re.MatchString(text) {
			r.hits++
			return true
		}
	}
	return false
}
