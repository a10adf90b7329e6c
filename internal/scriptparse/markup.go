// internal/scriptparse/markup.go
package scriptparse

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MarkupStripper turns an HTML fragment into its rendered text.
// An error means "could not strip"; callers keep the original text.
type MarkupStripper interface {
	StripMarkup(text string) (string, error)
}

// HTMLStripper parses the text as a <body> fragment and concatenates every
// text node, the same result a DOM textContent read would give.
type HTMLStripper struct{}

var bodyContext = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}

func (HTMLStripper) StripMarkup(text string) (string, error) {
	nodes, err := html.ParseFragment(strings.NewReader(text), bodyContext)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, n := range nodes {
		collectText(&b, n)
	}
	return b.String(), nil
}

func collectText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c)
	}
}

// RegexStripper is the dependency-light fallback: drop anything that looks
// like a tag or comment, then decode entities.
type RegexStripper struct{}

var markupPattern = regexp.MustCompile(`(?s)<!--.*?-->|</?[A-Za-z][^<>]*>`)

func (RegexStripper) StripMarkup(text string) (string, error) {
	return html.UnescapeString(markupPattern.ReplaceAllString(text, "")), nil
}

// NopStripper leaves the text untouched.
type NopStripper struct{}

func (NopStripper) StripMarkup(text string) (string, error) {
	return text, nil
}
