//go:build ignore

// Package main generates a synthetic Markdown vault for exercising
// note import, sync, and search at scale.
// Usage: go run scripts/generate-vault.go -notes 500 -output /tmp/vault
//
// The vault mixes journal entries, meeting notes, and reference pages,
// mostly with YAML front matter but some plain files so title and tag
// fallbacks get exercised too.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	numNotes  = flag.Int("notes", 500, "Number of notes to generate")
	outputDir = flag.String("output", "testdata/vault", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var topics = []string{
	"kubernetes", "postgres", "redis", "terraform", "prometheus",
	"grafana", "nginx", "kafka", "sqlite", "gRPC",
	"sourdough", "espresso", "bouldering", "woodworking", "astronomy",
}

var tagPool = []string{
	"ops", "infra", "database", "observability", "networking",
	"reading", "hobby", "draft", "followup", "reference",
}

var sentences = []string{
	"The %s setup needs another pass before it is production ready.",
	"Spent the morning digging into %s internals and took notes below.",
	"Key takeaway: %s behaves differently under sustained load.",
	"Next step is to automate the %s checks we currently run by hand.",
	"Found a good writeup comparing %s approaches, linked for later.",
	"The %s migration went smoother than expected, two small snags.",
	"Open question: how does %s degrade when the cache is cold.",
	"Benchmarked %s against the previous configuration, roughly even.",
	"Still not convinced the %s defaults are right for our workload.",
	"Documented the %s runbook so the next incident is not archaeology.",
}

var meetingItems = []string{
	"reviewed the open incidents from last week",
	"agreed to shard the %s workload by tenant",
	"postponed the %s upgrade until after the freeze",
	"assigned the %s cleanup to whoever touches it next",
	"decided to keep the current %s retention window",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	for _, sub := range []string{"journal", "meetings", "reference"} {
		if err := os.MkdirAll(filepath.Join(*outputDir, sub), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", sub, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generating %d notes in %s...\n", *numNotes, *outputDir)

	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	written := 0
	for i := 0; i < *numNotes; i++ {
		var err error
		switch {
		case i%10 < 4:
			err = writeJournal(rng, day.AddDate(0, 0, i/10))
		case i%10 < 7:
			err = writeReference(rng, i)
		default:
			err = writeMeeting(rng, day.AddDate(0, 0, i/10), i)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate note %d: %v\n", i, err)
			os.Exit(1)
		}
		written++
	}

	fmt.Printf("Wrote %d notes.\n", written)
	fmt.Println("Import with: nescordsync note import " + *outputDir)
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

// title upper-cases the first letter; the topic pool is plain ASCII.
func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// paragraph builds n topic-flavored sentences.
func paragraph(rng *rand.Rand, topic string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, pick(rng, sentences), topic)
	}
	return b.String()
}

func frontMatter(title string, tags ...string) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "title: %s\n", title)
	if len(tags) > 0 {
		b.WriteString("tags:\n")
		for _, tag := range tags {
			fmt.Fprintf(&b, "  - %s\n", tag)
		}
	}
	b.WriteString("---\n\n")
	return b.String()
}

func writeJournal(rng *rand.Rand, day time.Time) error {
	topic := pick(rng, topics)
	date := day.Format("2006-01-02")

	var b strings.Builder
	// Journals skip front matter; the heading supplies the title.
	fmt.Fprintf(&b, "# %s\n\n", date)
	b.WriteString(paragraph(rng, topic, 2+rng.Intn(3)))
	b.WriteString("\n\n## Later\n\n")
	b.WriteString(paragraph(rng, pick(rng, topics), 1+rng.Intn(2)))
	b.WriteString("\n")

	path := filepath.Join(*outputDir, "journal", date+".md")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeReference(rng *rand.Rand, index int) error {
	topic := pick(rng, topics)
	name := fmt.Sprintf("%s notes", title(topic))

	var b strings.Builder
	b.WriteString(frontMatter(name, "reference", pick(rng, tagPool)))
	fmt.Fprintf(&b, "# %s\n\n", name)
	b.WriteString(paragraph(rng, topic, 3+rng.Intn(4)))
	b.WriteString("\n\n## Gotchas\n\n")
	b.WriteString(paragraph(rng, topic, 1+rng.Intn(3)))
	b.WriteString("\n")

	path := filepath.Join(*outputDir, "reference", fmt.Sprintf("%s-%d.md", topic, index))
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeMeeting(rng *rand.Rand, day time.Time, index int) error {
	topic := pick(rng, topics)
	date := day.Format("2006-01-02")
	name := fmt.Sprintf("%s sync %s", title(topic), date)

	var b strings.Builder
	b.WriteString(frontMatter(name, "meeting", pick(rng, tagPool)))
	fmt.Fprintf(&b, "# %s\n\nAttendees: the usual suspects.\n\n", name)
	for i := 0; i < 3+rng.Intn(3); i++ {
		item := pick(rng, meetingItems)
		if strings.Contains(item, "%s") {
			item = fmt.Sprintf(item, pick(rng, topics))
		}
		fmt.Fprintf(&b, "- %s\n", item)
	}
	b.WriteString("\n")
	b.WriteString(paragraph(rng, topic, 1+rng.Intn(2)))
	b.WriteString("\n")

	path := filepath.Join(*outputDir, "meetings", fmt.Sprintf("%s-%s-%d.md", date, topic, index))
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
