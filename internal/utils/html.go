package utils

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// HTMLToText returns the visible text of an HTML document with whitespace collapsed.
// Script and style elements are dropped.
func HTMLToText(doc string) (string, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return "", err
	}
	d.Find("script, style, head").Remove()

	// Block boundaries would otherwise run words together
	d.Find("br, p, div, td, tr, li, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			if n.Parent != nil {
				n.Parent.InsertBefore(&html.Node{Type: html.TextNode, Data: " "}, n.NextSibling)
			}
		}
	})
	return CollapseWhitespace(d.Text()), nil
}
