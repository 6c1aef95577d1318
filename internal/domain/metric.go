package domain

import (
	"fmt"
	"strings"
	"time"
)

// MetricKind enumerates the five figures published in the daily report.
type MetricKind int

const (
	Cases MetricKind = iota
	Fatalities
	Hospitalized
	IntensiveCare
	Recovered
)

type metricInfo struct {
	name   string
	prefix string
	file   string
}

// metricTable binds each kind to its row prefix on the ministry page and
// the file name of its time series.
var metricTable = [...]metricInfo{
	Cases:         {name: "cases", prefix: "Bestätigte Fälle", file: "covid19_cases_austria.csv"},
	Fatalities:    {name: "fatalities", prefix: "Todesfälle", file: "covid19_fatalities_austria.csv"},
	Hospitalized:  {name: "hospitalized", prefix: "Hospitalisierung", file: "covid19_hospitalized_austria.csv"},
	IntensiveCare: {name: "icu", prefix: "Intensivstation", file: "covid19_icu_austria.csv"},
	Recovered:     {name: "releases", prefix: "Genesen", file: "covid19_releases_austria.csv"},
}

// AllMetrics lists every metric kind in report order.
func AllMetrics() []MetricKind {
	return []MetricKind{Cases, Fatalities, Hospitalized, IntensiveCare, Recovered}
}

func (k MetricKind) valid() bool { return k >= 0 && int(k) < len(metricTable) }

// String returns the short metric name used in logs, metrics and file keys.
func (k MetricKind) String() string {
	if !k.valid() {
		return fmt.Sprintf("metric(%d)", int(k))
	}
	return metricTable[k].name
}

// Prefix returns the row header prefix identifying the metric in the report.
func (k MetricKind) Prefix() string {
	if !k.valid() {
		return ""
	}
	return metricTable[k].prefix
}

// FileName returns the base name of the metric's time-series file.
func (k MetricKind) FileName() string {
	if !k.valid() {
		return ""
	}
	return metricTable[k].file
}

// ParseMetric looks up a metric kind by its short name.
func ParseMetric(name string) (MetricKind, bool) {
	for _, k := range AllMetrics() {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// ClassifyMetric maps a row header to a metric kind by prefix. The header is
// normalized first, so "Todesfälle  (Stand ...)" matches Fatalities.
func ClassifyMetric(header string) (MetricKind, bool) {
	h := string(NormalizeLabel(header))
	for _, k := range AllMetrics() {
		if strings.HasPrefix(h, metricTable[k].prefix) {
			return k, true
		}
	}
	return 0, false
}

// Values is one day's reported figure per region. A code missing from the
// map was not reported, which is not the same as a reported zero.
type Values map[RegionCode]int64

// Clone returns an independent copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, n := range v {
		out[k] = n
	}
	return out
}

// MetricRow is a fully parsed metric for one report date.
type MetricRow struct {
	Kind   MetricKind
	Date   time.Time
	Values Values
}
