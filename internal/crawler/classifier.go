package crawler

import "strings"

// LinkClassifier splits a page's links into internal and external by host.
type LinkClassifier struct {
	baseHost          string
	includeSubdomains bool
}

// NewLinkClassifier builds a classifier for the run's base URL.
func NewLinkClassifier(baseURL string, includeSubdomains bool) *LinkClassifier {
	return &LinkClassifier{
		baseHost:          Hostname(baseURL),
		includeSubdomains: includeSubdomains,
	}
}

// IsInternal reports whether rawURL belongs to the audited site. Only http(s)
// URLs can be internal.
func (c *LinkClassifier) IsInternal(rawURL string) bool {
	if c.baseHost == "" || !IsHTTP(rawURL) {
		return false
	}
	host := Hostname(rawURL)
	if host == "" {
		return false
	}
	if host == c.baseHost {
		return true
	}
	return c.includeSubdomains && strings.HasSuffix(host, "."+c.baseHost)
}

// Classify partitions links preserving document order. Link URLs are replaced
// by their normalized form.
func (c *LinkClassifier) Classify(links []Link) (internal, external []Link) {
	internal = make([]Link, 0, len(links))
	external = make([]Link, 0)
	for _, link := range links {
		if c.IsInternal(link.URL) {
			link.URL = Normalize(link.URL)
			internal = append(internal, link)
			continue
		}
		external = append(external, link)
	}
	return internal, external
}
