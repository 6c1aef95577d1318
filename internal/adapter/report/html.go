package report

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// findByClass returns the first element, in document order, whose class
// attribute contains class as a whole word.
func findByClass(root *html.Node, class string) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && hasClass(n, class) {
			found = n
			return false
		}
		return true
	})
	return found
}

// findElement returns the first element with the given tag at or below root.
func findElement(root *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return false
		}
		return true
	})
	return found
}

// walk visits nodes depth-first until visit returns false.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// children returns the direct element children of n with one of the given tags.
func children(n *html.Node, tags ...atom.Atom) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		for _, t := range tags {
			if c.DataAtom == t {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// tableRows splits a table into its header rows (thead) and body rows
// (tbody, or rows placed directly under the table).
func tableRows(table *html.Node) (head, body []*html.Node) {
	for _, section := range children(table, atom.Thead, atom.Tbody, atom.Tfoot, atom.Tr) {
		switch section.DataAtom {
		case atom.Thead:
			head = append(head, children(section, atom.Tr)...)
		case atom.Tbody:
			body = append(body, children(section, atom.Tr)...)
		case atom.Tr:
			body = append(body, section)
		}
	}
	return head, body
}

// cells returns the th/td children of a row.
func cells(tr *html.Node) []*html.Node {
	return children(tr, atom.Th, atom.Td)
}

// allHeaderCells reports whether every cell of the row is a th.
func allHeaderCells(cs []*html.Node) bool {
	if len(cs) == 0 {
		return false
	}
	for _, c := range cs {
		if c.DataAtom != atom.Th {
			return false
		}
	}
	return true
}

// text returns the visible text of n with whitespace, including non-breaking
// spaces, collapsed. Footnote markers (<sup>) are skipped and <br> counts as
// a space.
func text(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
			return
		case n.Type == html.ElementNode && n.DataAtom == atom.Sup:
			return
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
