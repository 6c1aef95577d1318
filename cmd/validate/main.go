// Command validate performs integrity checks across the five time-series
// stores: every file parses with unique dates, every column is a
// known region code, no cell is negative, and each day's regional figures
// add up to the national total. Consistency mismatches are reported as
// warnings because the ministry itself publishes inconsistent tables.
//
// Usage:
//
//	go run ./cmd/validate -data-dir data_AT
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/couchcryptid/covid-at-etl/internal/adapter/csvstore"
	"github.com/couchcryptid/covid-at-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name     string
	errors   []string
	warnings []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataDir := flag.String("data-dir", "data_AT", "directory containing the time-series CSV files")
	flag.Parse()

	if *dataDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(context.Background(), *dataDir, os.Stdout); code != 0 {
		os.Exit(code)
	}
}

// loaded is a successfully parsed store.
type loaded struct {
	kind   domain.MetricKind
	series *csvstore.Series
}

func run(ctx context.Context, dataDir string, w io.Writer) int {
	cat := domain.DefaultCatalog

	fmt.Fprintln(w, "=== COVID-19 Austria Store Validation ===")
	fmt.Fprintln(w)

	// ── Run validation phases ──
	parse, stores := validateParse(ctx, dataDir, cat)
	phases := []*phase{
		parse,
		validateColumns(stores, cat),
		validateNonNegative(stores),
		validateConsistency(stores, cat),
	}

	// ── Report results ──
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		} else if len(p.warnings) > 0 {
			status = fmt.Sprintf("\033[33mPASS (%d warnings)\033[0m", len(p.warnings))
		}
		fmt.Fprintf(w, "  %-40s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	for _, s := range stores {
		last := "-"
		if rec, ok := s.series.Last(); ok {
			last = domain.FormatDate(rec.Date)
		}
		fmt.Fprintf(w, "%-13s %4d rows  last %s  columns %s\n",
			s.kind, s.series.Len(), last, joinCodes(s.series.Columns))
	}

	for _, p := range phases {
		if len(p.errors) == 0 && len(p.warnings) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
		for _, e := range p.warnings {
			fmt.Fprintf(w, "  warning: %s\n", e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

// ── Phase 1: Parse ──
// Every store must parse with each date listed once. A missing file is an
// error: the validator runs against a populated data directory.

func validateParse(ctx context.Context, dataDir string, cat *domain.Catalog) (*phase, []loaded) {
	p := &phase{name: "Phase 1: Parse (dates unique)"}
	var out []loaded
	for _, kind := range domain.AllMetrics() {
		store := csvstore.New(dataDir, kind, cat.Codes())
		if _, err := os.Stat(store.Path()); err != nil {
			p.errorf("%s: %v", kind, err)
			continue
		}
		series, err := store.Read(ctx)
		if err != nil {
			p.errorf("%s: %v", kind, err)
			continue
		}
		if series.Len() == 0 {
			p.warnf("%s: no rows", kind)
		}
		out = append(out, loaded{kind: kind, series: series})
	}
	return p, out
}

// ── Phase 2: Columns ──

func validateColumns(stores []loaded, cat *domain.Catalog) *phase {
	p := &phase{name: "Phase 2: Columns (known region codes)"}
	for _, s := range stores {
		hasAggregate := false
		for _, code := range s.series.Columns {
			if !cat.Known(code) {
				p.errorf("%s: unknown column %q", s.kind, code)
			}
			if code == cat.Aggregate() {
				hasAggregate = true
			}
		}
		if s.series.Len() > 0 && !hasAggregate {
			p.warnf("%s: no %s column", s.kind, cat.Aggregate())
		}
	}
	return p
}

// ── Phase 3: Values ──

func validateNonNegative(stores []loaded) *phase {
	p := &phase{name: "Phase 3: Values (no negative cells)"}
	for _, s := range stores {
		for date, values := range s.series.All() {
			for _, code := range s.series.Columns {
				if n, ok := values[code]; ok && n < 0 {
					p.errorf("%s %s: %s=%d", s.kind, domain.FormatDate(date), code, n)
				}
			}
		}
	}
	return p
}

// ── Phase 4: Consistency ──
// Mismatches are warnings only; the stored figures are what was published.

func validateConsistency(stores []loaded, cat *domain.Catalog) *phase {
	p := &phase{name: "Phase 4: Consistency (states vs total)"}
	for _, s := range stores {
		for date, values := range s.series.All() {
			res := domain.Check(domain.MetricRow{Kind: s.kind, Date: date, Values: values}, cat)
			switch {
			case !res.AggregateReported:
				// Early rows predate the national column.
				continue
			case !res.OK:
				p.warnf("%s %s: %s=%d, sum of states=%d (diff %d)",
					s.kind, domain.FormatDate(date), cat.Aggregate(), res.Expected, res.Actual, res.Difference())
			}
		}
	}
	return p
}

func joinCodes(codes []domain.RegionCode) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}
