package domain

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RegionCode identifies an Austrian federal state or the national aggregate.
type RegionCode string

// RawLabel is the literal text the ministry page uses for a region.
type RawLabel string

// Canonical region codes. The order of the declarations matches the column
// order of the time-series files.
const (
	Burgenland   RegionCode = "B"
	Carinthia    RegionCode = "K"
	LowerAustria RegionCode = "NÖ"
	UpperAustria RegionCode = "OÖ"
	Salzburg     RegionCode = "S"
	Styria       RegionCode = "ST"
	Tyrol        RegionCode = "T"
	Vorarlberg   RegionCode = "V"
	Vienna       RegionCode = "W"
	AustriaTotal RegionCode = "AT"
)

var (
	// ErrUnknownRegion is returned when a label is not in the catalog.
	ErrUnknownRegion = errors.New("unknown region label")

	// ErrDuplicateRegion is returned when a state label is reported twice in one row.
	ErrDuplicateRegion = errors.New("duplicate region")
)

// UnknownRegionError reports the label that failed to resolve.
type UnknownRegionError struct {
	Label RawLabel
}

func (e *UnknownRegionError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownRegion, string(e.Label))
}

func (e *UnknownRegionError) Unwrap() error { return ErrUnknownRegion }

// LabelKind tells how a label contributes to its region's value.
type LabelKind int

const (
	// LabelState is a state or aggregate column label; it sets the value.
	LabelState LabelKind = iota
	// LabelDistrict is a Bezirk label; its value adds into the parent state.
	LabelDistrict
)

type labelEntry struct {
	code RegionCode
	kind LabelKind
}

// Catalog is the closed mapping between source labels and region codes.
type Catalog struct {
	codes     []RegionCode
	aggregate RegionCode
	expected  []RawLabel
	labels    map[RawLabel]labelEntry
}

// stateLabels is the ordered header of the ministry table.
var stateLabels = []struct {
	label RawLabel
	code  RegionCode
}{
	{"Bgld.", Burgenland},
	{"Ktn.", Carinthia},
	{"NÖ", LowerAustria},
	{"OÖ", UpperAustria},
	{"Sbg.", Salzburg},
	{"Stmk.", Styria},
	{"T", Tyrol},
	{"Vbg.", Vorarlberg},
	{"W", Vienna},
	{"Österreich gesamt", AustriaTotal},
}

// stateAliases are spellings seen in older revisions of the page.
var stateAliases = map[RawLabel]RegionCode{
	"Burgenland":       Burgenland,
	"Kärnten":          Carinthia,
	"Niederösterreich": LowerAustria,
	"Oberösterreich":   UpperAustria,
	"Salzburg":         Salzburg,
	"Steiermark":       Styria,
	"Tirol":            Tyrol,
	"Vorarlberg":       Vorarlberg,
	"Wien":             Vienna,
	"Österreich":       AustriaTotal,
	"Gesamt":           AustriaTotal,
}

// districtLabels maps Bezirk names onto their federal state.
var districtLabels = map[RawLabel]RegionCode{
	"Amstetten":                    LowerAustria,
	"Baden":                        LowerAustria,
	"Bludenz":                      Vorarlberg,
	"Braunau am Inn":               UpperAustria,
	"Bregenz":                      Vorarlberg,
	"Bruck an der Leitha":          LowerAustria,
	"Bruck-Mürzzuschlag":           Styria,
	"Deutschlandsberg":             Styria,
	"Dornbirn":                     Vorarlberg,
	"Eferding":                     UpperAustria,
	"Eisenstadt(Stadt)":            Burgenland,
	"Eisenstadt-Umgebung":          Burgenland,
	"Feldkirch":                    Vorarlberg,
	"Feldkirchen":                  Carinthia,
	"Freistadt":                    UpperAustria,
	"Gänserndorf":                  LowerAustria,
	"Gmünd":                        LowerAustria,
	"Gmunden":                      UpperAustria,
	"Graz(Stadt)":                  Styria,
	"Graz-Umgebung":                Styria,
	"Grieskirchen":                 UpperAustria,
	"Gröbming":                     Styria,
	"Güssing":                      Burgenland,
	"Hallein":                      Salzburg,
	"Hartberg-Fürstenfeld":         Styria,
	"Hermagor":                     Carinthia,
	"Hollabrunn":                   LowerAustria,
	"Horn":                         LowerAustria,
	"Imst":                         Tyrol,
	"Innsbruck-Land":               Tyrol,
	"Innsbruck-Stadt":              Tyrol,
	"Jennersdorf":                  Burgenland,
	"Kirchdorf an der Krems":       UpperAustria,
	"Kitzbühel":                    Tyrol,
	"Klagenfurt Land":              Carinthia,
	"Klagenfurt Stadt":             Carinthia,
	"Korneuburg":                   LowerAustria,
	"Krems an der Donau(Stadt)":    LowerAustria,
	"Krems(Land)":                  LowerAustria,
	"Kufstein":                     Tyrol,
	"Landeck":                      Tyrol,
	"Leibnitz":                     Styria,
	"Leoben":                       Styria,
	"Lienz":                        Tyrol,
	"Liezen":                       Styria,
	"Lilienfeld":                   LowerAustria,
	"Linz(Stadt)":                  UpperAustria,
	"Linz-Land":                    UpperAustria,
	"Mattersburg":                  Burgenland,
	"Melk":                         LowerAustria,
	"Mistelbach":                   LowerAustria,
	"Mödling":                      LowerAustria,
	"Murau":                        Styria,
	"Murtal":                       Styria,
	"Neunkirchen":                  LowerAustria,
	"Neusiedl am See":              Burgenland,
	"Oberpullendorf":               Burgenland,
	"Oberwart":                     Burgenland,
	"Perg":                         UpperAustria,
	"Reutte":                       Tyrol,
	"Ried im Innkreis":             UpperAustria,
	"Rohrbach":                     UpperAustria,
	"Rust(Stadt)":                  Burgenland,
	"Salzburg(Stadt)":              Salzburg,
	"Salzburg-Umgebung":            Salzburg,
	"Sankt Johann im Pongau":       Salzburg,
	"Sankt Pölten(Land)":           LowerAustria,
	"Sankt Pölten(Stadt)":          LowerAustria,
	"Sankt Veit an der Glan":       Carinthia,
	"Schärding":                    UpperAustria,
	"Scheibbs":                     LowerAustria,
	"Schwaz":                       Tyrol,
	"Spittal an der Drau":          Carinthia,
	"Steyr(Stadt)":                 UpperAustria,
	"Steyr-Land":                   UpperAustria,
	"Südoststeiermark":             Styria,
	"Tamsweg":                      Salzburg,
	"Tulln":                        LowerAustria,
	"Urfahr-Umgebung":              UpperAustria,
	"Villach Land":                 Carinthia,
	"Villach Stadt":                Carinthia,
	"Vöcklabruck":                  UpperAustria,
	"Voitsberg":                    Styria,
	"Völkermarkt":                  Carinthia,
	"Waidhofen an der Thaya":       LowerAustria,
	"Waidhofen an der Ybbs(Stadt)": LowerAustria,
	"Weiz":                         Styria,
	"Wels(Stadt)":                  UpperAustria,
	"Wels-Land":                    UpperAustria,
	"Wien(Stadt)":                  Vienna,
	"Wiener Neustadt(Land)":        LowerAustria,
	"Wiener Neustadt(Stadt)":       LowerAustria,
	"Wolfsberg":                    Carinthia,
	"Zell am See":                  Salzburg,
	"Zwettl":                       LowerAustria,
}

// DefaultCatalog is the catalog for the Austrian ministry report.
var DefaultCatalog = newAustrianCatalog()

func newAustrianCatalog() *Catalog {
	c := &Catalog{
		aggregate: AustriaTotal,
		labels:    make(map[RawLabel]labelEntry, len(stateLabels)+len(stateAliases)+len(districtLabels)),
	}
	for _, s := range stateLabels {
		c.codes = append(c.codes, s.code)
		c.expected = append(c.expected, s.label)
		c.labels[NormalizeLabel(string(s.label))] = labelEntry{code: s.code, kind: LabelState}
	}
	for label, code := range stateAliases {
		c.labels[NormalizeLabel(string(label))] = labelEntry{code: code, kind: LabelState}
	}
	for label, code := range districtLabels {
		c.labels[NormalizeLabel(string(label))] = labelEntry{code: code, kind: LabelDistrict}
	}
	return c
}

// NormalizeLabel canonicalizes source text for lookup: Unicode NFC,
// non-breaking spaces folded, runs of whitespace collapsed, and spaces
// before an opening parenthesis removed ("Graz (Stadt)" -> "Graz(Stadt)").
func NormalizeLabel(s string) RawLabel {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, " (", "(")
	return RawLabel(s)
}

// Resolve maps a raw label to its region code.
func (c *Catalog) Resolve(label RawLabel) (RegionCode, error) {
	code, _, err := c.lookup(label)
	return code, err
}

func (c *Catalog) lookup(label RawLabel) (RegionCode, LabelKind, error) {
	e, ok := c.labels[NormalizeLabel(string(label))]
	if !ok {
		return "", 0, &UnknownRegionError{Label: label}
	}
	return e.code, e.kind, nil
}

// Codes returns the canonical region codes in column order. The aggregate is last.
func (c *Catalog) Codes() []RegionCode {
	return append([]RegionCode(nil), c.codes...)
}

// Aggregate returns the national total code.
func (c *Catalog) Aggregate() RegionCode { return c.aggregate }

// ExpectedLabels returns the header labels in the order the ministry table
// publishes them. Used when the table carries no header row.
func (c *Catalog) ExpectedLabels() []RawLabel {
	return append([]RawLabel(nil), c.expected...)
}

// Known reports whether code is one of the catalog's region codes.
func (c *Catalog) Known(code RegionCode) bool {
	for _, k := range c.codes {
		if k == code {
			return true
		}
	}
	return false
}
