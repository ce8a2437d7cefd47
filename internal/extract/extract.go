// Package extract turns fetched HTML into the crawl's working data:
// visible text, outbound links, page metadata (including OpenGraph
// and Twitter-card tags) and contact/profile entities.
package extract

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Link is one outbound anchor discovered during extraction.
type Link struct {
	URL        string
	AnchorText string
	Rel        string
	NoFollow   bool
	IsInternal bool
}

// SocialLink is one recognised social-profile URL.
type SocialLink struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

// Entities holds the regex-derived contact and profile data found
// on a page.
type Entities struct {
	Emails      []string     `json:"emails,omitempty"`
	Phones      []string     `json:"phones,omitempty"`
	SocialLinks []SocialLink `json:"social_links,omitempty"`
}

// Metadata holds title/description/canonical plus OpenGraph and
// Twitter-card fields.
type Metadata struct {
	Title        string            `json:"title,omitempty"`
	MetaDesc     string            `json:"meta_description,omitempty"`
	MetaRobots   string            `json:"meta_robots,omitempty"`
	CanonicalURL string            `json:"canonical_url,omitempty"`
	OpenGraph    map[string]string `json:"open_graph,omitempty"`
	TwitterCard  map[string]string `json:"twitter_card,omitempty"`
}

// Payload is the opaque extraction payload handed to storage:
// metadata, entities, and a content hash for quick reference.
type Payload struct {
	Metadata    Metadata `json:"metadata"`
	Entities    Entities `json:"entities"`
	ContentHash string   `json:"content_hash"`
}

// Result is what Extract returns for one page.
type Result struct {
	Text    string
	Links   []Link
	Payload Payload
}

// Extractor implements the Extractor collaborator contract.
type Extractor struct{}

// New builds an Extractor. It carries no state: every Extract call
// is independent.
func New() *Extractor {
	return &Extractor{}
}

// Extract parses htmlBody relative to baseURL and returns the text
// payload and discovered links the engine needs for deduplication and
// frontier expansion, plus the opaque metadata/entity payload.
func (e *Extractor) Extract(htmlBody []byte, baseURL string) (Result, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return Result{}, fmt.Errorf("extract: invalid base url: %w", err)
	}

	doc, err := html.Parse(strings.NewReader(string(htmlBody)))
	if err != nil {
		return Result{}, fmt.Errorf("extract: parse html: %w", err)
	}

	t := &traversal{base: base}
	t.walk(doc)

	text := strings.TrimSpace(collapseWhitespace(t.text.String()))

	gq, err := goquery.NewDocumentFromReader(strings.NewReader(string(htmlBody)))
	metadata := Metadata{
		Title:        t.title,
		MetaDesc:     t.metaDesc,
		MetaRobots:   t.metaRobots,
		CanonicalURL: t.canonicalURL,
	}
	var entities Entities
	if err == nil {
		metadata.OpenGraph = extractMetaPrefix(gq, "property", "og:")
		metadata.TwitterCard = extractMetaPrefix(gq, "name", "twitter:")
		entities = extractEntities(gq, text)
	}

	hash := sha256.Sum256(htmlBody)

	return Result{
		Text:  text,
		Links: t.links,
		Payload: Payload{
			Metadata:    metadata,
			Entities:    entities,
			ContentHash: fmt.Sprintf("%x", hash),
		},
	}, nil
}

type traversal struct {
	base         *url.URL
	text         strings.Builder
	links        []Link
	title        string
	metaDesc     string
	metaRobots   string
	canonicalURL string
}

func (t *traversal) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		trimmed := strings.TrimSpace(n.Data)
		if trimmed != "" {
			t.text.WriteString(trimmed)
			t.text.WriteByte(' ')
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript":
			return // skip non-visible subtrees entirely
		case "title":
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				t.title = strings.TrimSpace(n.FirstChild.Data)
			}
		case "meta":
			t.parseMeta(n)
		case "link":
			t.parseLink(n)
		case "a":
			t.parseAnchor(n)
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		t.walk(c)
	}
}

func (t *traversal) parseMeta(n *html.Node) {
	var name, content string
	for _, attr := range n.Attr {
		switch attr.Key {
		case "name":
			name = strings.ToLower(attr.Val)
		case "content":
			content = attr.Val
		}
	}
	switch name {
	case "description":
		t.metaDesc = content
	case "robots":
		t.metaRobots = content
	}
}

func (t *traversal) parseLink(n *html.Node) {
	var rel, href string
	for _, attr := range n.Attr {
		switch attr.Key {
		case "rel":
			rel = strings.ToLower(attr.Val)
		case "href":
			href = attr.Val
		}
	}
	if rel == "canonical" && href != "" {
		if resolved, err := t.resolve(href); err == nil {
			t.canonicalURL = resolved.String()
		}
	}
}

func (t *traversal) parseAnchor(n *html.Node) {
	var href, rel string
	for _, attr := range n.Attr {
		switch attr.Key {
		case "href":
			href = attr.Val
		case "rel":
			rel = attr.Val
		}
	}

	if href == "" || strings.HasPrefix(href, "#") {
		return
	}
	if !isFollowableHref(href) {
		return
	}

	resolved, err := t.resolve(href)
	if err != nil {
		return
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return
	}

	anchorText := extractText(n)
	nofollow := false
	for _, token := range strings.Fields(rel) {
		if strings.EqualFold(token, "nofollow") {
			nofollow = true
		}
	}

	t.links = append(t.links, Link{
		URL:        resolved.String(),
		AnchorText: strings.TrimSpace(anchorText),
		Rel:        rel,
		NoFollow:   nofollow,
		IsInternal: strings.EqualFold(resolved.Hostname(), t.base.Hostname()),
	})
}

func (t *traversal) resolve(href string) (*url.URL, error) {
	u, err := url.Parse(href)
	if err != nil {
		return nil, err
	}
	return t.base.ResolveReference(u), nil
}

// isFollowableHref filters out the non-http(s) scheme hrefs the
// canonicaliser also rejects, before we pay for a resolve + parse.
func isFollowableHref(href string) bool {
	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	return true
}

func extractText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if text := extractText(c); strings.TrimSpace(text) != "" {
			parts = append(parts, strings.TrimSpace(text))
		}
	}
	return strings.Join(parts, " ")
}

var whitespaceRE = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return whitespaceRE.ReplaceAllString(s, " ")
}

// extractMetaPrefix collects <meta attr="prefix*" content="..."> pairs.
func extractMetaPrefix(doc *goquery.Document, attr, prefix string) map[string]string {
	out := map[string]string{}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key, ok := s.Attr(attr)
		if !ok || !strings.HasPrefix(key, prefix) {
			return
		}
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		out[strings.TrimPrefix(key, prefix)] = content
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

var (
	emailRE = regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\+?1?[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
)

// socialPlatforms maps platform names to the URL fragments that
// identify a profile link.
var socialPlatforms = map[string][]string{
	"twitter":   {"twitter.com/", "x.com/"},
	"facebook":  {"facebook.com/", "fb.com/"},
	"instagram": {"instagram.com/"},
	"linkedin":  {"linkedin.com/"},
	"youtube":   {"youtube.com/", "youtu.be/"},
	"github":    {"github.com/"},
	"tiktok":    {"tiktok.com/"},
	"pinterest": {"pinterest.com/"},
	"reddit":    {"reddit.com/"},
}

func extractEntities(doc *goquery.Document, text string) Entities {
	emailSet := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if strings.HasPrefix(href, "mailto:") {
			addr := strings.SplitN(strings.TrimPrefix(href, "mailto:"), "?", 2)[0]
			if addr != "" {
				emailSet[strings.ToLower(addr)] = struct{}{}
			}
		}
	})
	for _, m := range emailRE.FindAllString(text, -1) {
		emailSet[strings.ToLower(m)] = struct{}{}
	}

	phoneSet := map[string]struct{}{}
	for _, m := range phoneRE.FindAllString(text, -1) {
		phoneSet[strings.TrimSpace(m)] = struct{}{}
	}

	var social []SocialLink
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return
		}
		lower := strings.ToLower(href)
		for platform, needles := range socialPlatforms {
			for _, needle := range needles {
				if strings.Contains(lower, needle) {
					if _, dup := seen[href]; !dup {
						seen[href] = struct{}{}
						social = append(social, SocialLink{Platform: platform, URL: href})
					}
					return
				}
			}
		}
	})

	return Entities{
		Emails:      sortedKeys(emailSet),
		Phones:      sortedKeys(phoneSet),
		SocialLinks: social,
	}
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
