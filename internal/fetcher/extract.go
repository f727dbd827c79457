package fetcher

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
	"golang.org/x/net/html"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
)

const normalizeFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveFragment |
	purell.FlagDecodeUnnecessaryEscapes |
	purell.FlagSortQuery |
	purell.FlagRemoveDuplicateSlashes |
	purell.FlagRemoveDotSegments

// Normalize canonicalizes an absolute URL so the same page is always keyed
// the same way.
func Normalize(raw string) (string, error) {
	return purell.NormalizeURLString(raw, normalizeFlags)
}

type document struct {
	title string
	text  string
	links []string
}

// extract pulls the title, visible text and normalized outbound links from
// a parsed page. Links resolve against <base href> when present, otherwise
// against pageURL.
func extract(doc *html.Node, pageURL *url.URL) document {
	base := pageURL
	if href := findBase(doc); href != "" {
		if b, err := pageURL.Parse(href); err == nil {
			base = b
		}
	}

	var sb strings.Builder
	collectText(doc, &sb)

	seen := make(map[string]struct{})
	var links []string
	for _, href := range collectHrefs(doc, nil) {
		abs := resolve(href, base)
		if abs == "" {
			continue
		}
		normalized, err := Normalize(abs)
		if err != nil || len(normalized) > proto.MaxURLLength {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	}

	return document{
		title: strings.TrimSpace(findTitle(doc)),
		text:  strings.Join(strings.Fields(sb.String()), " "),
		links: links,
	}
}

func findBase(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "base" {
		for _, attr := range n.Attr {
			if attr.Key == "href" {
				return attr.Val
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if res := findBase(c); res != "" {
			return res
		}
	}
	return ""
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		if n.FirstChild != nil {
			return n.FirstChild.Data
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "head":
			return
		}
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteString(" ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

func collectHrefs(n *html.Node, out []string) []string {
	if n.Type == html.ElementNode && n.Data == "a" {
		for _, attr := range n.Attr {
			if attr.Key == "href" {
				if val := strings.TrimSpace(attr.Val); val != "" {
					out = append(out, val)
				}
				break
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = collectHrefs(c, out)
	}
	return out
}

// resolve returns ref as an absolute http(s) URL, or "" if it is neither.
func resolve(ref string, base *url.URL) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(u)
	switch strings.ToLower(abs.Scheme) {
	case "http", "https":
		return abs.String()
	default:
		return ""
	}
}
