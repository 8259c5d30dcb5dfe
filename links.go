package profiler

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultKeywords are URL fragments that tend to mark pages with company information
var DefaultKeywords = []string{
	"contact", "about", "team", "leadership", "services", "pricing",
	"support", "founder", "partners", "clients", "company", "social", "history",
}

// nonNavigableSchemes are href prefixes that never lead to a page
var nonNavigableSchemes = []string{"mailto:", "tel:", "javascript:", "data:"}

// textlessElements hold no visible text
var textlessElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
}

// ExtractLinks returns the unique links of every anchor in page.
// Relative hrefs are resolved against baseURL; absolute ones are kept as written.
func ExtractLinks(page, baseURL string) []string {
	links := []string{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return links
	}

	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		base = nil
	}

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || !isNavigable(href) {
			return
		}

		link, ok := resolveURL(base, href)
		if !ok || seen[link] {
			return
		}
		seen[link] = true
		links = append(links, link)
	})

	return links
}

// resolveURL keeps scheme-qualified hrefs and joins the rest onto base
func resolveURL(base *url.URL, href string) (string, bool) {
	parsed, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if parsed.IsAbs() {
		return href, true
	}
	if base == nil {
		return "", false
	}
	return base.ResolveReference(parsed).String(), true
}

func isNavigable(href string) bool {
	lower := strings.ToLower(href)
	for _, scheme := range nonNavigableSchemes {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	return true
}

// FilterByKeyword keeps the links whose lowercased form contains any keyword.
// Matching is a plain substring test: "scontact" matches "contact".
func FilterByKeyword(links []string, keywords []string) []string {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			lowered = append(lowered, kw)
		}
	}

	candidates := []string{}
	for _, link := range links {
		linkLower := strings.ToLower(link)
		for _, kw := range lowered {
			if strings.Contains(linkLower, kw) {
				candidates = append(candidates, link)
				break
			}
		}
	}
	return candidates
}

// ExtractText returns the visible text of an HTML page, one text node per line
func ExtractText(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return strings.TrimSpace(page)
	}

	var lines []string
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && textlessElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				lines = append(lines, text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)

	return strings.Join(lines, "\n")
}
