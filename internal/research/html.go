package research

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// parseDuckDuckGoResults reads the html.duckduckgo.com results page. Each hit
// is a div carrying both the "result" and "results_links" classes.
func parseDuckDuckGoResults(page string, limit int) ([]SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var hits []SearchResult
	for n := range doc.Descendants() {
		if len(hits) >= limit {
			break
		}
		if !isElement(n, "div") || !hasClass(n, "result") || !hasClass(n, "results_links") {
			continue
		}
		if hit := readHit(n); hit.URL != "" && hit.Title != "" {
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

// readHit pulls title, link and snippet out of one result block.
func readHit(block *html.Node) SearchResult {
	var hit SearchResult
	for n := range block.Descendants() {
		if !isElement(n, "a") {
			continue
		}
		switch {
		case hasClass(n, "result__a"):
			hit.URL, hit.Title = unwrapRedirect(attr(n, "href")), text(n)
		case hasClass(n, "result__snippet"):
			hit.Snippet = text(n)
		}
	}
	return hit
}

// unwrapRedirect turns //duckduckgo.com/l/?uddg=<target>&rut=... into the
// target URL.
func unwrapRedirect(href string) string {
	rest, ok := strings.CutPrefix(href, "//duckduckgo.com/l/?")
	if !ok {
		return href
	}
	q, err := url.ParseQuery(rest)
	if err != nil || q.Get("uddg") == "" {
		return href
	}
	return q.Get("uddg")
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func hasClass(n *html.Node, class string) bool {
	return slices.Contains(strings.Fields(attr(n, "class")), class)
}

func attr(n *html.Node, key string) string {
	i := slices.IndexFunc(n.Attr, func(a html.Attribute) bool { return a.Key == key })
	if i < 0 {
		return ""
	}
	return n.Attr[i].Val
}

// text joins the node's text with whitespace collapsed.
func text(n *html.Node) string {
	var words []string
	for d := range n.Descendants() {
		if d.Type == html.TextNode {
			words = append(words, strings.Fields(d.Data)...)
		}
	}
	return strings.Join(words, " ")
}
