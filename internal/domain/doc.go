// Package domain models the daily COVID-19 situation report published by the
// Austrian Federal Ministry of Social Affairs, Health, Care and Consumer
// Protection.
//
// # Data Source
//
// The ministry page carries one table inside a "table-responsive" container.
// Each body row starts with a header cell naming the metric and the report
// timestamp, followed by one cell per federal state and a national total:
//
//	Bestätigte Fälle (Stand 01.04.2020, 09:30 Uhr) | 146 | 280 | ... | 10.180
//
// Row header prefixes:
//
//	Bestätigte Fälle   confirmed cases        -> cases
//	Todesfälle         fatalities             -> fatalities
//	Hospitalisierung   hospitalized           -> hospitalized
//	Intensivstation    intensive care         -> icu
//	Genesen            recovered              -> releases
//
// # Number Format
//
// Counts use German grouping: "." separates thousands and there are no
// decimals, so "10.180" is ten thousand one hundred eighty. A cell of "-"
// or an empty cell means the state published no figure; it is recorded as
// absent, never as zero. See [ParseValue] and [IsAbsentMarker].
//
// # Regions
//
// Column labels are abbreviations ("Bgld.", "Stmk.", "Österreich gesamt").
// The [Catalog] resolves them, and the district (Bezirk) names used by the
// district breakdown, to the canonical codes B, K, NÖ, OÖ, S, ST, T, V, W
// and the aggregate AT.
//
// # Consistency
//
// The sum of the nine states should equal the published total but often
// lags behind it during the day. [Check] reports the difference; the
// published total is stored regardless.
package domain
