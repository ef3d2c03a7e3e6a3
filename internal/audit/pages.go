package audit

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
)

// Page listing defaults.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Page sort keys.
const (
	PageSortURL          = "url"
	PageSortStatusCode   = "statusCode"
	PageSortResponseTime = "responseTime"
	PageSortWordCount    = "wordCount"
)

// Length bounds behind the title and description issue filters.
const (
	TitleMaxLen       = 60
	TitleMinLen       = 30
	DescriptionMaxLen = 160
	DescriptionMinLen = 120
)

var issueFilters = map[string]func(p *crawler.CrawledPage) bool{
	"missing-title":       func(p *crawler.CrawledPage) bool { return isBlank(p.Title) },
	"missing-description": func(p *crawler.CrawledPage) bool { return isBlank(p.MetaDescription) },
	"missing-h1":          func(p *crawler.CrawledPage) bool { return len(p.H1) == 0 },
	"multiple-h1":         func(p *crawler.CrawledPage) bool { return len(p.H1) > 1 },
	"broken-links":        func(p *crawler.CrawledPage) bool { return p.StatusCode >= 400 },
	"slow-pages":          func(p *crawler.CrawledPage) bool { return p.ResponseTime > crawler.SlowPageThresholdMs },
	"large-pages":         func(p *crawler.CrawledPage) bool { return p.ContentLength > crawler.LargePageThresholdByte },
	"images-without-alt": func(p *crawler.CrawledPage) bool {
		for _, img := range p.Images {
			if isBlank(img.Alt) {
				return true
			}
		}
		return false
	},
	"title-too-long": func(p *crawler.CrawledPage) bool {
		return utf8.RuneCountInString(p.Title) > TitleMaxLen
	},
	"title-too-short": func(p *crawler.CrawledPage) bool {
		return !isBlank(p.Title) && utf8.RuneCountInString(p.Title) < TitleMinLen
	},
	"description-too-long": func(p *crawler.CrawledPage) bool {
		return utf8.RuneCountInString(p.MetaDescription) > DescriptionMaxLen
	},
	"description-too-short": func(p *crawler.CrawledPage) bool {
		return !isBlank(p.MetaDescription) && utf8.RuneCountInString(p.MetaDescription) < DescriptionMinLen
	},
}

// IssueTypes lists the accepted issueType filter values.
func IssueTypes() []string {
	out := make([]string, 0, len(issueFilters))
	for k := range issueFilters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PageQuery filters and pages the crawled pages of one run.
type PageQuery struct {
	StatusCodes []int
	Search      string
	IssueType   string
	SortBy      string
	SortOrder   string
	Page        int
	Limit       int
}

// WithDefaults normalizes paging and sort fields.
func (q PageQuery) WithDefaults() PageQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}
	switch q.SortBy {
	case PageSortURL, PageSortStatusCode, PageSortResponseTime, PageSortWordCount:
	default:
		q.SortBy = PageSortURL
	}
	if q.SortOrder != "desc" {
		q.SortOrder = "asc"
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// PageList is one page of crawled pages.
type PageList struct {
	Data       []crawler.CrawledPage `json:"data"`
	Pagination Pagination            `json:"pagination"`
}

// Pages filters, sorts and pages a run's crawled pages.
func (s *Service) Pages(ctx context.Context, runID string, q PageQuery) (PageList, error) {
	q = q.WithDefaults()
	var issue func(*crawler.CrawledPage) bool
	if q.IssueType != "" {
		var ok bool
		if issue, ok = issueFilters[q.IssueType]; !ok {
			return PageList{}, &crawler.ValidationError{Field: "issueType", Message: "is not a known issue type"}
		}
	}
	run, err := s.Get(ctx, runID)
	if err != nil {
		return PageList{}, err
	}

	codes := make(map[int]bool, len(q.StatusCodes))
	for _, c := range q.StatusCodes {
		codes[c] = true
	}
	needle := strings.ToLower(q.Search)

	matched := make([]crawler.CrawledPage, 0, len(run.Pages))
	for i := range run.Pages {
		p := &run.Pages[i]
		if len(codes) > 0 && !codes[p.StatusCode] {
			continue
		}
		if needle != "" && !containsFold(needle, p.URL, p.Title, p.MetaDescription) {
			continue
		}
		if issue != nil && !issue(p) {
			continue
		}
		matched = append(matched, *p)
	}
	sortPages(matched, q.SortBy, q.SortOrder == "desc")

	total := len(matched)
	start := (q.Page - 1) * q.Limit
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return PageList{Data: matched[start:end], Pagination: paginate(total, q.Page, q.Limit)}, nil
}

func sortPages(pages []crawler.CrawledPage, by string, desc bool) {
	less := func(a, b *crawler.CrawledPage) int {
		switch by {
		case PageSortStatusCode:
			return a.StatusCode - b.StatusCode
		case PageSortResponseTime:
			return compareInt64(a.ResponseTime, b.ResponseTime)
		case PageSortWordCount:
			return a.WordCount - b.WordCount
		default:
			return strings.Compare(a.URL, b.URL)
		}
	}
	sort.SliceStable(pages, func(i, j int) bool {
		c := less(&pages[i], &pages[j])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func containsFold(needle string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
