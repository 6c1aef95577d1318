// Command genmock renders a ministry-style report page from the figures
// already held in the time-series stores. The page is used as a local
// SOURCE_URL target and as a test fixture; cmd/ingest reads it back into the
// same values.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -data-dir data_AT \
//	  -date 2020-04-01 \
//	  -out internal/adapter/report/testdata/generated.html
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/couchcryptid/covid-at-etl/internal/adapter/csvstore"
	"github.com/couchcryptid/covid-at-etl/internal/adapter/report"
	"github.com/couchcryptid/covid-at-etl/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dataDir := flag.String("data-dir", "data_AT", "directory containing the time-series CSV files")
	dateFlag := flag.String("date", "", "report date (YYYY-MM-DD); defaults to the last date in the cases store")
	tableClass := flag.String("table-class", "table-responsive", "class of the element wrapping the table")
	out := flag.String("out", "", "output file (default stdout)")
	flag.Parse()

	ctx := context.Background()
	cat := domain.DefaultCatalog

	series := make(map[domain.MetricKind]*csvstore.Series)
	for _, kind := range domain.AllMetrics() {
		s, err := csvstore.New(*dataDir, kind, cat.Codes()).Read(ctx)
		if err != nil {
			return fmt.Errorf("read %s: %w", kind, err)
		}
		series[kind] = s
	}

	date, err := pickDate(*dateFlag, series[domain.Cases])
	if err != nil {
		return err
	}

	page := report.Page{Date: date, TableClass: *tableClass, Rows: make(map[domain.MetricKind]domain.Values)}
	for kind, s := range series {
		if values, ok := s.Lookup(date); ok {
			page.Rows[kind] = values
		}
	}
	if len(page.Rows) == 0 {
		return fmt.Errorf("no store has figures for %s", domain.FormatDate(date))
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, page, cat); err != nil {
		return err
	}

	if *out == "" {
		_, err := os.Stdout.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stderr, "Generated %s: %d metric rows for %s\n", *out, len(page.Rows), domain.FormatDate(date))
	return nil
}

func pickDate(flagValue string, cases *csvstore.Series) (time.Time, error) {
	if flagValue != "" {
		return domain.ParseDate(flagValue)
	}
	last, ok := cases.Last()
	if !ok {
		return time.Time{}, errors.New("cases store is empty; pass -date")
	}
	return last.Date, nil
}
