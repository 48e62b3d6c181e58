package feed

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Digest is a page reduced to its readable text.
type Digest struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	SiteName  string    `json:"site_name,omitempty"`
	Excerpt   string    `json:"excerpt,omitempty"`
	Markdown  string    `json:"markdown"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Digester extracts the main article from HTML and renders it as markdown.
type Digester struct {
	converter *md.Converter
	maxChars  int
}

// NewDigester creates a digester that trims markdown to maxChars runes.
// maxChars <= 0 keeps everything.
func NewDigester(maxChars int) *Digester {
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	return &Digester{converter: conv, maxChars: maxChars}
}

// Digest builds a Digest from a fetched page. When readability finds no
// article the whole document is converted instead.
func (d *Digester) Digest(pageURL string, body []byte) (*Digest, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	digest := &Digest{URL: pageURL}
	content := string(body)

	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		content = article.Content
		digest.Title = strings.TrimSpace(article.Title)
		digest.SiteName = article.SiteName
		digest.Excerpt = strings.TrimSpace(article.Excerpt)
	}
	if digest.Title == "" {
		digest.Title = documentTitle(body)
	}

	markdown, err := d.converter.ConvertString(content)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", pageURL, err)
	}
	markdown = strings.TrimSpace(blankRuns.ReplaceAllString(markdown, "\n\n"))
	if markdown == "" {
		return nil, fmt.Errorf("no readable content at %s", pageURL)
	}
	digest.Markdown = truncateRunes(markdown, d.maxChars)
	return digest, nil
}

// documentTitle returns the first <title> text.
func documentTitle(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var walk func(*html.Node) string
	walk = func(n *html.Node) string {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if t := walk(c); t != "" {
				return t
			}
		}
		return ""
	}
	return walk(doc)
}

// truncateRunes cuts s to at most max runes, preferring the last paragraph
// or line break in the final fifth, and marks the cut with an ellipsis.
func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}

	runes := []rune(s)
	cut := string(runes[:max])
	floor := len(cut) * 4 / 5
	if i := strings.LastIndex(cut, "\n\n"); i >= floor {
		cut = cut[:i]
	} else if i := strings.LastIndex(cut, "\n"); i >= floor {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \n") + "…"
}
