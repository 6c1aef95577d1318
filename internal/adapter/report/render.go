package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/covid-at-etl/internal/domain"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is the content of a synthetic report page.
type Page struct {
	Date       time.Time
	TableClass string
	// Rows holds the figures per metric. Metrics without an entry are
	// left out of the table; regions without a value render as "-".
	Rows map[domain.MetricKind]domain.Values
}

// Render writes page as HTML laid out like the ministry table, so that an
// Extractor with the same TableClass reads the figures back unchanged.
func Render(w io.Writer, page Page, catalog *domain.Catalog) error {
	labels := catalog.ExpectedLabels()
	codes := catalog.Codes()
	stand := fmt.Sprintf("(Stand %s, 09:30 Uhr)", page.Date.Format("02.01.2006"))

	head := element(atom.Tr, nil, element(atom.Th, scope("col"), textNode("Bundesland")))
	for _, l := range labels {
		head.AppendChild(element(atom.Th, scope("col"), textNode(string(l))))
	}

	body := element(atom.Tbody, nil)
	for _, kind := range domain.AllMetrics() {
		values, ok := page.Rows[kind]
		if !ok {
			continue
		}
		tr := element(atom.Tr, nil, element(atom.Th, scope("row"), textNode(kind.Prefix()+" "+stand)))
		for _, code := range codes {
			cell := "-"
			if n, ok := values[code]; ok {
				cell = groupThousands(n)
			}
			tr.AppendChild(element(atom.Td, nil, textNode(cell)))
		}
		body.AppendChild(tr)
	}

	table := element(atom.Table, []html.Attribute{{Key: "class", Val: "table"}},
		element(atom.Thead, nil, head), body)

	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	doc.AppendChild(element(atom.Html, []html.Attribute{{Key: "lang", Val: "de"}},
		element(atom.Head, nil,
			element(atom.Meta, []html.Attribute{{Key: "charset", Val: "utf-8"}}),
			element(atom.Title, nil, textNode("Neuartiges Coronavirus (2019-nCov)")),
		),
		element(atom.Body, nil,
			element(atom.Div, []html.Attribute{{Key: "class", Val: page.TableClass}}, table),
		),
	))

	if err := html.Render(w, doc); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func element(a atom.Atom, attrs []html.Attribute, kids ...*html.Node) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
	for _, k := range kids {
		n.AppendChild(k)
	}
	return n
}

func textNode(s string) *html.Node { return &html.Node{Type: html.TextNode, Data: s} }

func scope(v string) []html.Attribute { return []html.Attribute{{Key: "scope", Val: v}} }

// groupThousands formats n the way the ministry does, e.g. 10749 as "10.749".
func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	if n < 0 || len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
