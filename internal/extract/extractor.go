// Package extract turns a fetched HTML document into audit page fields.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
)

// Extractor implements crawler.Extractor on top of goquery.
type Extractor struct {
	logger *zap.Logger
}

// New returns an Extractor. A nil logger discards per-element failures.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Resolution is the outcome of resolving one href or src against the page URL.
type Resolution struct {
	Value string
	Err   error
}

// OK reports whether the reference resolved.
func (r Resolution) OK() bool {
	return r.Err == nil
}

// Resolve makes ref absolute against base and drops any fragment.
func Resolve(base *url.URL, element, ref string) Resolution {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return Resolution{Err: &crawler.ExtractionError{Element: element, Value: ref, Err: err}}
	}
	abs := base.ResolveReference(parsed)
	abs.Fragment = ""
	abs.RawFragment = ""
	return Resolution{Value: abs.String()}
}

// Extract parses body and returns every field the audit records. Links and
// images that fail to resolve are skipped and counted in SkippedElements.
func (e *Extractor) Extract(pageURL string, body []byte, crawlImages bool) (crawler.PageFields, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return crawler.PageFields{}, fmt.Errorf("parse page url %q: %w", pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.PageFields{}, fmt.Errorf("parse html for %s: %w", pageURL, err)
	}

	fields := crawler.PageFields{
		Title:           strings.TrimSpace(doc.Find("title").First().Text()),
		MetaDescription: metaContent(doc, `meta[name="description"]`),
		MetaKeywords:    splitKeywords(metaContent(doc, `meta[name="keywords"]`)),
		H1:              headingTexts(doc, "h1"),
		H2:              headingTexts(doc, "h2"),
		H3:              headingTexts(doc, "h3"),
		H4:              headingTexts(doc, "h4"),
		H5:              headingTexts(doc, "h5"),
		H6:              headingTexts(doc, "h6"),
		CanonicalURL:    attr(doc.Find(`link[rel="canonical"]`).First(), "href"),
		RobotsMeta:      metaContent(doc, `meta[name="robots"]`),
		Language:        attr(doc.Find("html").First(), "lang"),
		SchemaMarkup:    jsonLD(doc),
		SocialMeta: crawler.SocialMeta{
			OGTitle:            metaContent(doc, `meta[property="og:title"]`),
			OGDescription:      metaContent(doc, `meta[property="og:description"]`),
			OGImage:            metaContent(doc, `meta[property="og:image"]`),
			TwitterTitle:       metaContent(doc, `meta[name="twitter:title"]`),
			TwitterDescription: metaContent(doc, `meta[name="twitter:description"]`),
			TwitterImage:       metaContent(doc, `meta[name="twitter:image"]`),
		},
		Links:  []crawler.Link{},
		Images: []crawler.Image{},
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := attr(s, "href")
		if href == "" {
			return
		}
		res := Resolve(base, "link", href)
		if !res.OK() {
			fields.SkippedElements++
			e.logger.Debug("skipping unresolvable link", zap.String("page", pageURL), zap.Error(res.Err))
			return
		}
		fields.Links = append(fields.Links, crawler.Link{
			URL:        res.Value,
			AnchorText: strings.TrimSpace(s.Text()),
			Nofollow:   hasToken(attr(s, "rel"), "nofollow"),
		})
	})

	if crawlImages {
		doc.Find("img").Each(func(_ int, s *goquery.Selection) {
			src := attr(s, "src")
			if src == "" {
				return
			}
			res := Resolve(base, "image", src)
			if !res.OK() {
				fields.SkippedElements++
				e.logger.Debug("skipping unresolvable image", zap.String("page", pageURL), zap.Error(res.Err))
				return
			}
			alt, _ := s.Attr("alt")
			fields.Images = append(fields.Images, crawler.Image{
				Src:    res.Value,
				Alt:    alt,
				Width:  leadingInt(attr(s, "width")),
				Height: leadingInt(attr(s, "height")),
			})
		})
	}

	fields.WordCount = wordCount(doc)
	return fields, nil
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}

func metaContent(doc *goquery.Document, selector string) string {
	return attr(doc.Find(selector).First(), "content")
}

func headingTexts(doc *goquery.Document, tag string) []string {
	out := []string{}
	doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.TrimSpace(s.Text()))
	})
	return out
}

func splitKeywords(raw string) []string {
	out := []string{}
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func jsonLD(doc *goquery.Document) []string {
	out := []string{}
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		out = append(out, s.Text())
	})
	return out
}

// wordCount counts whitespace-separated tokens of the visible body text.
// It must run last because it strips non-visible nodes from the document.
func wordCount(doc *goquery.Document) int {
	body := doc.Find("body")
	body.Find("script, style, noscript, template").Remove()
	return len(strings.Fields(body.Text()))
}

func hasToken(list, token string) bool {
	for _, t := range strings.Fields(strings.ToLower(list)) {
		if t == token {
			return true
		}
	}
	return false
}

// leadingInt parses the leading decimal digits of s, so "640px" yields 640.
func leadingInt(s string) *int {
	n, digits := 0, 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
		digits++
		if digits > 9 {
			return nil
		}
	}
	if digits == 0 {
		return nil
	}
	return &n
}
