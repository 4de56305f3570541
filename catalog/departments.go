package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	// Department links look like /undergraduate/courses-az/comp_sci/ with
	// anchor text "Computer Science (COMP_SCI)".
	deptHrefRe = regexp.MustCompile(`/undergraduate/courses-az/([^/]+)/?$`)
	deptTextRe = regexp.MustCompile(`^(.*\S)\s*\(([A-Z][A-Z_&]+)\)$`)
)

// Departments fetches the A-Z index and returns every department link on it.
func (s *Scraper) Departments(ctx context.Context) ([]Department, error) {
	page, err := s.fetch(ctx, s.cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse base URL: %w", err)
	}

	deps, err := parseDepartments(page, base)
	if err != nil {
		return nil, err
	}
	if len(deps) == 0 {
		return nil, fmt.Errorf("catalog: no department links on %s", s.cfg.BaseURL)
	}

	slog.Info("catalog: departments found", "count", len(deps))
	return deps, nil
}

// parseDepartments walks every anchor in the index page, keeping those whose
// href points at a department page and whose text carries a parenthesized
// department code.
func parseDepartments(page string, base *url.URL) ([]Department, error) {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("catalog: parse index page: %w", err)
	}

	var deps []Department
	seen := make(map[string]bool)
	walk(root, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "a" {
			return
		}
		href := attrVal(n, "href")
		hm := deptHrefRe.FindStringSubmatch(href)
		if hm == nil {
			return
		}
		text := collapseSpace(nodeText(n))
		tm := deptTextRe.FindStringSubmatch(text)
		if tm == nil {
			return
		}

		code := deriveDeptCode(text, hm[1])
		if code == "" || seen[code] {
			return
		}
		seen[code] = true

		deps = append(deps, Department{
			Code: code,
			Name: tm[1],
			URL:  resolveURL(base, href),
		})
	})
	return deps, nil
}

// deriveDeptCode takes the code from the parenthesized suffix of the link
// text, falling back to the URL slug.
func deriveDeptCode(text, slug string) string {
	if tm := deptTextRe.FindStringSubmatch(text); tm != nil {
		return normalizeCode(tm[2])
	}
	return normalizeCode(slug)
}

// normalizeCode uppercases and joins code parts with single underscores:
// "art hist" and "ART-HIST" both become "ART_HIST".
func normalizeCode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '&'
	})
	return strings.Join(parts, "_")
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// --- HTML tree helpers ---

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// hasClassToken reports whether the node's class attribute contains the
// given token.
func hasClassToken(n *html.Node, token string) bool {
	for _, c := range strings.Fields(attrVal(n, "class")) {
		if c == token {
			return true
		}
	}
	return false
}

// findClassToken returns the first descendant (or the node itself) carrying
// the class token, in document order.
func findClassToken(n *html.Node, token string) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) {
		if found == nil && c.Type == html.ElementNode && hasClassToken(c, token) {
			found = c
		}
	})
	return found
}

// nodeText concatenates the text descendants of n, separating adjacent
// nodes with a space.
func nodeText(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type != html.TextNode {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(c.Data)
	})
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
