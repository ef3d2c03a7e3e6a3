// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// Status represents the lifecycle state of an audit run.
type Status string

// Run status values persisted in the run store.
const (
	StatusPending   Status = "pending"
	StatusCrawling  Status = "crawling"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Default crawl settings applied when a request leaves a field unset.
const (
	DefaultMaxPages  = 500
	DefaultMaxDepth  = 10
	DefaultUserAgent = "RankScopeBot/1.0"
	DefaultDelayMs   = 1000
	DefaultTimeoutMs = 30000
)

// CrawlSettings captures per-run configuration knobs. They are immutable once
// the run leaves pending.
type CrawlSettings struct {
	MaxPages          int    `json:"maxPages"`
	MaxDepth          int    `json:"maxDepth"`
	RespectRobotsTxt  bool   `json:"respectRobotsTxt"`
	IncludeSubdomains bool   `json:"includeSubdomains"`
	FollowRedirects   bool   `json:"followRedirects"`
	CrawlImages       bool   `json:"crawlImages"`
	UserAgent         string `json:"userAgent"`
	Delay             int    `json:"delay"`
	Timeout           int    `json:"timeout"`
}

// WithDefaults fills zero-valued numeric and string fields.
func (s CrawlSettings) WithDefaults() CrawlSettings {
	if s.MaxPages <= 0 {
		s.MaxPages = DefaultMaxPages
	}
	if s.MaxDepth <= 0 {
		s.MaxDepth = DefaultMaxDepth
	}
	if s.UserAgent == "" {
		s.UserAgent = DefaultUserAgent
	}
	if s.Delay <= 0 {
		s.Delay = DefaultDelayMs
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeoutMs
	}
	return s
}

// DelayDuration returns the politeness delay as a duration.
func (s CrawlSettings) DelayDuration() time.Duration {
	return time.Duration(s.Delay) * time.Millisecond
}

// TimeoutDuration returns the per-request timeout as a duration.
func (s CrawlSettings) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Millisecond
}

// Summary holds run-level aggregate counters.
type Summary struct {
	TotalPages          int         `json:"totalPages"`
	CrawledPages        int         `json:"crawledPages"`
	ErrorPages          int         `json:"errorPages"`
	RedirectPages       int         `json:"redirectPages"`
	AverageResponseTime int64       `json:"averageResponseTime"`
	TotalResponseTime   int64       `json:"totalResponseTime"`
	TotalWordCount      int         `json:"totalWordCount"`
	AverageWordCount    int         `json:"averageWordCount"`
	TotalImages         int         `json:"totalImages"`
	TotalInternalLinks  int         `json:"totalInternalLinks"`
	TotalExternalLinks  int         `json:"totalExternalLinks"`
	StatusCodes         map[int]int `json:"statusCodes,omitempty"`
}

// Issues holds run-level SEO issue counters.
type Issues struct {
	MissingTitles         int `json:"missingTitles"`
	MissingDescriptions   int `json:"missingDescriptions"`
	DuplicateTitles       int `json:"duplicateTitles"`
	DuplicateDescriptions int `json:"duplicateDescriptions"`
	MissingH1             int `json:"missingH1"`
	MultipleH1            int `json:"multipleH1"`
	BrokenLinks           int `json:"brokenLinks"`
	RedirectChains        int `json:"redirectChains"`
	SlowPages             int `json:"slowPages"`
	LargePages            int `json:"largePages"`
}

// Total sums the headline issue counters shown on dashboards.
func (i Issues) Total() int {
	return i.MissingTitles + i.MissingDescriptions + i.BrokenLinks + i.DuplicateTitles
}

// Link is one hyperlink found on a page.
type Link struct {
	URL        string `json:"url"`
	AnchorText string `json:"anchorText"`
	Nofollow   bool   `json:"nofollow"`
}

// Image is one <img> found on a page. Width and Height are nil when the
// attribute is missing or not an integer.
type Image struct {
	Src    string `json:"src"`
	Alt    string `json:"alt"`
	Width  *int   `json:"width,omitempty"`
	Height *int   `json:"height,omitempty"`
}

// SocialMeta groups Open Graph and Twitter card fields.
type SocialMeta struct {
	OGTitle            string `json:"ogTitle"`
	OGDescription      string `json:"ogDescription"`
	OGImage            string `json:"ogImage"`
	TwitterTitle       string `json:"twitterTitle"`
	TwitterDescription string `json:"twitterDescription"`
	TwitterImage       string `json:"twitterImage"`
}

// PageFields is everything the extractor derives from one document.
type PageFields struct {
	Title           string     `json:"title"`
	MetaDescription string     `json:"metaDescription"`
	MetaKeywords    []string   `json:"metaKeywords"`
	H1              []string   `json:"h1"`
	H2              []string   `json:"h2"`
	H3              []string   `json:"h3"`
	H4              []string   `json:"h4"`
	H5              []string   `json:"h5"`
	H6              []string   `json:"h6"`
	WordCount       int        `json:"wordCount"`
	CanonicalURL    string     `json:"canonicalUrl"`
	RobotsMeta      string     `json:"robotsMeta"`
	Language        string     `json:"language"`
	SchemaMarkup    []string   `json:"schemaMarkup"`
	SocialMeta      SocialMeta `json:"socialMeta"`
	Links           []Link     `json:"-"`
	Images          []Image    `json:"images"`
	SkippedElements int        `json:"skippedElements"`
}

// CrawledPage is the record appended for every dequeued URL.
type CrawledPage struct {
	URL         string `json:"url"`
	StatusCode  int    `json:"statusCode"`
	ContentType string `json:"contentType"`
	PageFields
	InternalLinks []Link `json:"internalLinks"`
	ExternalLinks []Link `json:"externalLinks"`
	ResponseTime  int64  `json:"responseTime"`
	ContentLength int64  `json:"contentLength"`
	CrawlDepth    int    `json:"crawlDepth"`
	Error         string `json:"error,omitempty"`
}

// FrontierEntry is one queued URL with the depth it was discovered at.
type FrontierEntry struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// FrontierState is the persisted form of a Frontier used to resume a paused run.
type FrontierState struct {
	Queue   []FrontierEntry `json:"queue"`
	Visited []string        `json:"visited"`
}

// AuditRun represents one crawl execution and its results.
type AuditRun struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	BaseURL   string         `json:"baseUrl"`
	ClientID  string         `json:"clientId,omitempty"`
	Settings  CrawlSettings  `json:"crawlSettings"`
	Status    Status         `json:"status"`
	Summary   Summary        `json:"summary"`
	Issues    Issues         `json:"issues"`
	Pages     []CrawledPage  `json:"crawledPages,omitempty"`
	Frontier  *FrontierState `json:"-"`
	CreatedAt time.Time      `json:"createdAt"`
	StartTime *time.Time     `json:"startTime,omitempty"`
	EndTime   *time.Time     `json:"endTime,omitempty"`
	Duration  int64          `json:"duration"`
	ReportURI string         `json:"reportUri,omitempty"`
	ErrorText string         `json:"error,omitempty"`
}

// Clone returns a deep-enough copy for handing a run across ownership
// boundaries: the page slice and frontier are copied, page contents are
// treated as immutable.
func (r AuditRun) Clone() AuditRun {
	cp := r
	if r.Pages != nil {
		cp.Pages = append([]CrawledPage(nil), r.Pages...)
	}
	if r.Frontier != nil {
		f := FrontierState{
			Queue:   append([]FrontierEntry(nil), r.Frontier.Queue...),
			Visited: append([]string(nil), r.Frontier.Visited...),
		}
		cp.Frontier = &f
	}
	if r.Summary.StatusCodes != nil {
		codes := make(map[int]int, len(r.Summary.StatusCodes))
		for k, v := range r.Summary.StatusCodes {
			codes[k] = v
		}
		cp.Summary.StatusCodes = codes
	}
	return cp
}

// FetchRequest captures everything needed to fetch a URL once.
type FetchRequest struct {
	RunID           string
	URL             string
	UserAgent       string
	Timeout         time.Duration
	FollowRedirects bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL           string
	StatusCode    int
	ContentType   string
	ContentLength int64
	Body          []byte
	Duration      time.Duration
}

// ListQuery filters and pages the run listing.
type ListQuery struct {
	ClientID  string
	Status    Status
	Search    string
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

// RunFinishedEvent is published once a run reaches a terminal state.
type RunFinishedEvent struct {
	RunID     string  `json:"run_id"`
	Name      string  `json:"name"`
	BaseURL   string  `json:"base_url"`
	Status    Status  `json:"status"`
	Summary   Summary `json:"summary"`
	Issues    Issues  `json:"issues"`
	ReportURI string  `json:"report_uri,omitempty"`
	Timestamp string  `json:"timestamp"`
}
