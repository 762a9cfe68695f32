// Package loadtest generates synthetic markdown corpora and measures
// reconciliation passes over them.
//
// Corpora are deterministic: the same Options always produce byte-identical
// files, so plan and timing results can be compared across runs.
package loadtest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Options shapes a generated corpus.
type Options struct {
	// Docs is the number of documents to write.
	Docs int
	// FrontmatterKeys is the number of distinct frontmatter keys. Every
	// document carries status, priority and tags plus a rotating subset of
	// the rest.
	FrontmatterKeys int
	// SectionNames is the number of distinct "## " section names.
	SectionNames int
	// SectionsPerDoc is the number of sections in each document.
	SectionsPerDoc int
	// DirFanout spreads documents over this many subdirectories (0 = flat).
	DirFanout int
}

// DefaultOptions returns a small corpus shaped like a task tracker.
func DefaultOptions() Options {
	return Options{
		Docs:            200,
		FrontmatterKeys: 12,
		SectionNames:    40,
		SectionsPerDoc:  4,
		DirFanout:       8,
	}
}

// Corpus describes what Generate wrote.
type Corpus struct {
	Root string
	// Paths are slash-separated and relative to Root, sorted.
	Paths []string
	// FrontmatterKeys lists every key used at least once.
	FrontmatterKeys []string
	// SectionCounts maps each section name to the number of documents
	// containing it.
	SectionCounts map[string]int
}

var statuses = []string{"open", "in-progress", "blocked", "done"}

// Priority distribution weighted toward P2.
var priorities = []int{0, 1, 2, 2, 2, 2, 2, 3, 3, 4}

// Generate writes a corpus under root.
func Generate(root string, opts Options) (*Corpus, error) {
	if opts.Docs < 0 || opts.SectionNames < 0 || opts.SectionsPerDoc < 0 {
		return nil, fmt.Errorf("invalid options: %+v", opts)
	}
	if opts.SectionsPerDoc > opts.SectionNames {
		opts.SectionsPerDoc = opts.SectionNames
	}

	c := &Corpus{Root: root, SectionCounts: make(map[string]int)}
	keys := make(map[string]bool)

	for i := 0; i < opts.Docs; i++ {
		rel := docPath(i, opts.DirFanout)
		text, docKeys, sections := renderDoc(i, opts)

		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(text), 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", rel, err)
		}

		c.Paths = append(c.Paths, rel)
		for _, k := range docKeys {
			keys[k] = true
		}
		for _, s := range sections {
			c.SectionCounts[s]++
		}
	}

	for k := range keys {
		c.FrontmatterKeys = append(c.FrontmatterKeys, k)
	}
	sort.Strings(c.FrontmatterKeys)
	sort.Strings(c.Paths)
	return c, nil
}

func docPath(i, fanout int) string {
	name := fmt.Sprintf("task-%05d.md", i)
	if fanout <= 0 {
		return name
	}
	return fmt.Sprintf("area-%02d/%s", i%fanout, name)
}

// SectionName returns the name of the n-th generated section.
func SectionName(n int) string {
	return fmt.Sprintf("Section %d", n)
}

func renderDoc(i int, opts Options) (string, []string, []string) {
	var b strings.Builder
	keys := []string{"status", "priority", "tags"}

	b.WriteString("---\n")
	fmt.Fprintf(&b, "status: %s\n", statuses[i%len(statuses)])
	fmt.Fprintf(&b, "priority: %d\n", priorities[i%len(priorities)])
	fmt.Fprintf(&b, "tags:\n  - loadtest\n  - batch-%d\n", i/100)
	for k := 3; k < opts.FrontmatterKeys; k++ {
		// Each extra key appears in roughly one document in (k-1).
		if i%(k-1) != 0 {
			continue
		}
		key := fmt.Sprintf("field_%02d", k)
		fmt.Fprintf(&b, "%s: value %d\n", key, i)
		keys = append(keys, key)
	}
	b.WriteString("---\n\n")

	fmt.Fprintf(&b, "# Task %d\n\n", i)
	fmt.Fprintf(&b, "Synthetic document %d for load testing.\n", i)

	// Section 0 is in every document; the rest rotate so lower-numbered
	// names are more common.
	var sections []string
	for s := 0; s < opts.SectionsPerDoc; s++ {
		n := 0
		if s > 0 && opts.SectionNames > 1 {
			n = 1 + (i*s+s*s)%(opts.SectionNames-1)
		}
		name := SectionName(n)
		if contains(sections, name) {
			continue
		}
		sections = append(sections, name)
		fmt.Fprintf(&b, "\n## %s\n\nContent of %s in document %d.\n", name, strings.ToLower(name), i)
	}

	return b.String(), keys, sections
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Stats summarizes the durations of repeated passes.
type Stats struct {
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	P50    time.Duration // Median
	P95    time.Duration
	Passes int
}

// Measure runs fn n times and returns the timing distribution. It stops at
// the first error.
func Measure(n int, fn func() error) (*Stats, error) {
	durations := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		start := time.Now()
		if err := fn(); err != nil {
			return nil, fmt.Errorf("pass %d failed: %w", i, err)
		}
		durations = append(durations, time.Since(start))
	}
	return computeStats(durations), nil
}

func computeStats(durations []time.Duration) *Stats {
	if len(durations) == 0 {
		return &Stats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &Stats{
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   sum / time.Duration(len(durations)),
		P50:    sorted[len(sorted)*50/100],
		P95:    sorted[len(sorted)*95/100],
		Passes: len(durations),
	}
}

// String formats the statistics on one line.
func (s *Stats) String() string {
	return fmt.Sprintf("passes=%d min=%v p50=%v mean=%v p95=%v max=%v",
		s.Passes, s.Min, s.P50, s.Mean, s.P95, s.Max)
}
