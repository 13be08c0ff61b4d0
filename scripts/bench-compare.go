//go:build ignore

// Package main compares two `go test -bench` outputs and flags
// regressions on the hot paths (hybrid fusion, vector search, import).
// Usage:
//
//	go test -bench . -benchmem ./... > current.txt
//	go run scripts/bench-compare.go current.txt baseline.txt
//
// Time, bytes, and allocations are compared independently; any metric
// regressing past the threshold fails the run.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
)

var (
	threshold  = flag.Float64("threshold", 0.20, "Fractional slowdown that counts as a regression")
	outputJSON = flag.Bool("json", false, "Emit the report as JSON")
	verbose    = flag.Bool("verbose", false, "Show unchanged benchmarks too")
	failHard   = flag.Bool("fail", true, "Exit 1 when a regression is found")
)

// benchLine matches: BenchmarkName-8  1000  1234 ns/op  [456 B/op  7 allocs/op]
var benchLine = regexp.MustCompile(`^(Benchmark\S+)\s+\d+\s+([\d.]+)\s+ns/op(?:\s+(\d+)\s+B/op)?(?:\s+(\d+)\s+allocs/op)?`)

type sample struct {
	NsPerOp     float64 `json:"ns_per_op"`
	BytesPerOp  float64 `json:"bytes_per_op"`
	AllocsPerOp float64 `json:"allocs_per_op"`
}

type delta struct {
	Name     string  `json:"name"`
	Metric   string  `json:"metric"`
	Current  float64 `json:"current"`
	Baseline float64 `json:"baseline"`
	Percent  float64 `json:"percent"`
	Verdict  string  `json:"verdict"`
}

type report struct {
	Compared    int     `json:"compared"`
	OnlyCurrent int     `json:"only_in_current"`
	OnlyBase    int     `json:"only_in_baseline"`
	Regressions int     `json:"regressions"`
	Deltas      []delta `json:"deltas"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <current.txt> <baseline.txt>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	current, err := parseFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
	baseline, err := parseFile(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse %s: %v\n", flag.Arg(1), err)
		os.Exit(1)
	}

	rep := compare(current, baseline)

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(os.Stderr, "encode report: %v\n", err)
			os.Exit(1)
		}
	} else {
		printReport(rep)
	}

	if *failHard && rep.Regressions > 0 {
		os.Exit(1)
	}
}

func parseFile(path string) (map[string]sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]sample)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m := benchLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		var s sample
		s.NsPerOp, _ = strconv.ParseFloat(m[2], 64)
		if m[3] != "" {
			s.BytesPerOp, _ = strconv.ParseFloat(m[3], 64)
		}
		if m[4] != "" {
			s.AllocsPerOp, _ = strconv.ParseFloat(m[4], 64)
		}
		out[m[1]] = s
	}
	return out, sc.Err()
}

func compare(current, baseline map[string]sample) *report {
	rep := &report{}

	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		curr := current[name]
		base, ok := baseline[name]
		if !ok {
			rep.OnlyCurrent++
			continue
		}
		rep.Compared++

		metrics := []struct {
			label      string
			curr, base float64
		}{
			{"ns/op", curr.NsPerOp, base.NsPerOp},
			{"B/op", curr.BytesPerOp, base.BytesPerOp},
			{"allocs/op", curr.AllocsPerOp, base.AllocsPerOp},
		}
		for _, m := range metrics {
			if m.base == 0 {
				continue
			}
			pct := (m.curr - m.base) / m.base
			d := delta{
				Name:     name,
				Metric:   m.label,
				Current:  m.curr,
				Baseline: m.base,
				Percent:  pct * 100,
			}
			switch {
			case pct > *threshold:
				d.Verdict = "REGRESSION"
				rep.Regressions++
			case pct < -*threshold:
				d.Verdict = "improved"
			default:
				d.Verdict = "ok"
				if !*verbose {
					continue
				}
			}
			rep.Deltas = append(rep.Deltas, d)
		}
	}

	for name := range baseline {
		if _, ok := current[name]; !ok {
			rep.OnlyBase++
		}
	}
	return rep
}

func printReport(rep *report) {
	fmt.Printf("Compared %d benchmarks (%d new, %d missing)\n\n",
		rep.Compared, rep.OnlyCurrent, rep.OnlyBase)

	if len(rep.Deltas) == 0 {
		fmt.Println("No notable changes.")
	}
	for _, d := range rep.Deltas {
		fmt.Printf("%-55s %10s %12.1f -> %-12.1f %+7.1f%%  %s\n",
			d.Name, d.Metric, d.Baseline, d.Current, d.Percent, d.Verdict)
	}

	fmt.Println()
	if rep.Regressions > 0 {
		fmt.Printf("FAILED: %d metric(s) regressed past %.0f%%\n", rep.Regressions, *threshold*100)
	} else {
		fmt.Println("PASSED: no regressions past the threshold.")
	}
}
