package normalize

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	inlineSpace = regexp.MustCompile(`[ \t\r\f\v\x{00a0}]+`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

// StripHTML returns the text content of an HTML fragment with block
// boundaries kept as line breaks and blank runs collapsed.
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return compactWhitespace(fragment)
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body})
	if err != nil {
		return compactWhitespace(fragment)
	}
	buf := new(bytes.Buffer)
	for _, n := range nodes {
		dig(n, buf)
	}
	return compactWhitespace(buf.String())
}

// FirstImage returns the src of the first <img> in an HTML fragment.
func FirstImage(fragment string) string {
	if !strings.Contains(fragment, "<img") && !strings.Contains(fragment, "<IMG") {
		return ""
	}
	doc, err := htmlquery.Parse(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	if img := htmlquery.FindOne(doc, "//img[@src]"); img != nil {
		return strings.TrimSpace(htmlquery.SelectAttr(img, "src"))
	}
	return ""
}

// PageTitle returns the <title> of an HTML document, or "".
func PageTitle(r io.Reader) string {
	doc, err := htmlquery.Parse(r)
	if err != nil {
		return ""
	}
	return compactWhitespace(digForText(htmlquery.FindOne(doc, "//head/title")))
}

func digForText(n *html.Node) string {
	if n == nil {
		return ""
	}
	buf := new(bytes.Buffer)
	dig(n, buf)
	return buf.String()
}

func dig(n *html.Node, buf *bytes.Buffer) {
	if n == nil {
		return
	}
	switch n.Type {
	case html.TextNode:
		buf.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Head:
			return
		case atom.Br:
			buf.WriteByte('\n')
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		dig(c, buf)
	}
	if n.Type == html.ElementNode && isBlock(n.DataAtom) {
		buf.WriteString("\n\n")
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Li, atom.Ul, atom.Ol, atom.Blockquote, atom.Pre, atom.Table, atom.Tr,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Hr, atom.Figure, atom.Section, atom.Article:
		return true
	}
	return false
}

func compactWhitespace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
	}
	s = blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.Trim(s, "\n ")
}
