// Package htmltext converts HTML message bodies into readable plain text.
package htmltext

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// hidden matches elements whose content is never shown to a reader.
var hidden = cascadia.MustCompile("head, script, style, noscript, template, title")

// blockElements start and end on their own line.
var blockElements = map[atom.Atom]bool{
	atom.Address:    true,
	atom.Article:    true,
	atom.Aside:      true,
	atom.Blockquote: true,
	atom.Dd:         true,
	atom.Div:        true,
	atom.Dl:         true,
	atom.Dt:         true,
	atom.Fieldset:   true,
	atom.Figcaption: true,
	atom.Figure:     true,
	atom.Footer:     true,
	atom.Form:       true,
	atom.Header:     true,
	atom.Hr:         true,
	atom.Li:         true,
	atom.Main:       true,
	atom.Nav:        true,
	atom.Ol:         true,
	atom.Section:    true,
	atom.Table:      true,
	atom.Tr:         true,
	atom.Ul:         true,
}

// paragraphElements are separated from surrounding text by a blank line.
var paragraphElements = map[atom.Atom]bool{
	atom.P:   true,
	atom.Pre: true,
	atom.H1:  true,
	atom.H2:  true,
	atom.H3:  true,
	atom.H4:  true,
	atom.H5:  true,
	atom.H6:  true,
}

// Convert renders an HTML document or fragment as plain text. Markup is
// dropped, entities are decoded, whitespace is collapsed the way a browser
// would, and block-level elements and <br> produce line breaks. Link targets
// are appended in brackets when they differ from the link text.
func Convert(src string) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	for _, n := range hidden.MatchAll(doc) {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}

	w := &textWriter{}
	w.walk(doc, false)
	return w.String(), nil
}

// textWriter accumulates text while tracking pending whitespace and the
// number of trailing newlines already written.
type textWriter struct {
	b        strings.Builder
	space    bool
	newlines int
}

func (w *textWriter) walk(n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		if pre {
			w.raw(n.Data)
		} else {
			w.text(n.Data)
		}
		return
	case html.ElementNode:
		w.element(n, pre)
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, pre)
	}
}

func (w *textWriter) element(n *html.Node, pre bool) {
	switch {
	case n.DataAtom == atom.Br:
		w.lineFeed()
		return
	case n.DataAtom == atom.Hr:
		w.lineBreak(1)
		w.raw("---")
		w.lineBreak(1)
		return
	case n.DataAtom == atom.Img:
		if alt := attr(n, "alt"); alt != "" {
			w.text(alt)
		}
		return
	case paragraphElements[n.DataAtom]:
		w.lineBreak(2)
	case blockElements[n.DataAtom]:
		w.lineBreak(1)
	case n.DataAtom == atom.Td || n.DataAtom == atom.Th:
		if n.PrevSibling != nil {
			w.text(" ")
		}
	}

	if n.DataAtom == atom.Li {
		w.text("- ")
	}

	start := w.b.Len()
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, pre || n.DataAtom == atom.Pre)
	}

	if n.DataAtom == atom.A {
		w.link(n, w.b.String()[start:])
	}

	switch {
	case paragraphElements[n.DataAtom]:
		w.lineBreak(2)
	case blockElements[n.DataAtom]:
		w.lineBreak(1)
	}
}

// link appends the href of an anchor unless it only repeats the visible text
// or points inside the document.
func (w *textWriter) link(n *html.Node, label string) {
	href := strings.TrimSpace(attr(n, "href"))
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return
	}
	label = strings.TrimSpace(label)
	target := strings.TrimPrefix(href, "mailto:")
	if label == href || label == target {
		return
	}
	w.text(" [" + href + "]")
}

// text writes a run of collapsible text.
func (w *textWriter) text(s string) {
	if s == "" {
		return
	}
	words := strings.Fields(s)
	first, _ := utf8.DecodeRuneInString(s)
	leading := unicode.IsSpace(first)
	if len(words) == 0 {
		w.space = w.space || leading
		return
	}

	for i, word := range words {
		if i > 0 || ((w.space || leading) && w.newlines == 0 && w.b.Len() > 0) {
			w.b.WriteByte(' ')
		}
		w.b.WriteString(word)
	}
	w.newlines = 0
	last, _ := utf8.DecodeLastRuneInString(s)
	w.space = unicode.IsSpace(last)
}

// raw writes preformatted text verbatim.
func (w *textWriter) raw(s string) {
	if s == "" {
		return
	}
	w.b.WriteString(s)
	trimmed := strings.TrimRight(s, "\n")
	if trimmed == "" {
		w.newlines += len(s)
	} else {
		w.newlines = len(s) - len(trimmed)
	}
	w.space = false
}

// lineFeed writes an unconditional line break.
func (w *textWriter) lineFeed() {
	if w.b.Len() == 0 {
		return
	}
	w.b.WriteByte('\n')
	w.newlines++
	w.space = false
}

// lineBreak makes sure the output ends with at least min newlines.
func (w *textWriter) lineBreak(min int) {
	w.space = false
	if w.b.Len() == 0 {
		return
	}
	for w.newlines < min {
		w.b.WriteByte('\n')
		w.newlines++
	}
}

// String returns the text with trailing spaces removed from every line,
// runs of blank lines squeezed to one, and outer blank lines trimmed.
func (w *textWriter) String() string {
	lines := strings.Split(w.b.String(), "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.Trim(strings.Join(out, "\n"), "\n")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
