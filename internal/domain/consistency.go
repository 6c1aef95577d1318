package domain

// ConsistencyResult compares the published national total against the sum
// of the regional figures.
type ConsistencyResult struct {
	OK                bool  `json:"ok"`
	Expected          int64 `json:"expected"`
	Actual            int64 `json:"actual"`
	AggregateReported bool  `json:"aggregate_reported"`
}

// Difference is Expected minus Actual.
func (r ConsistencyResult) Difference() int64 { return r.Expected - r.Actual }

// Check sums every non-aggregate value present in the row and compares it
// with the aggregate value. A row without an aggregate is never OK.
// Check only reports; the caller decides what to do with a mismatch.
func Check(row MetricRow, cat *Catalog) ConsistencyResult {
	agg := cat.Aggregate()
	var res ConsistencyResult
	for code, n := range row.Values {
		if code == agg {
			continue
		}
		res.Actual += n
	}
	res.Expected, res.AggregateReported = row.Values[agg]
	res.OK = res.AggregateReported && res.Expected == res.Actual
	return res
}
