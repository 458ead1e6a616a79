package sources

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"periscope/internal/textutil"
)

// CleanText strips markup and entities from a feed field and collapses
// whitespace.
func CleanText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return textutil.CollapseWhitespace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return textutil.CollapseWhitespace(html.UnescapeString(s))
	}
	doc.Find("script, style, noscript").Remove()
	// Block elements would otherwise glue adjacent words together.
	doc.Find("p, br, div, li, h1, h2, h3, h4, h5, h6, tr").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml(" ")
	})
	return textutil.CollapseWhitespace(doc.Text())
}
