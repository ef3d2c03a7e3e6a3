package crawler

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"
)

// fakeAttempt scripts one fetch attempt. The last attempt of a sequence repeats.
type fakeAttempt struct {
	status int
	body   string
	err    error
}

type fakeFetcher struct {
	mu       sync.Mutex
	attempts map[string][]fakeAttempt
	calls    []string
	onFetch  func(url string)
}

func newFakeFetcher(site map[string]string) *fakeFetcher {
	f := &fakeFetcher{attempts: make(map[string][]fakeAttempt)}
	for u, body := range site {
		f.attempts[u] = []fakeAttempt{{status: 200, body: body}}
	}
	return f
}

func (f *fakeFetcher) script(u string, attempts ...fakeAttempt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[u] = attempts
}

func (f *fakeFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	hook := f.onFetch
	seq, ok := f.attempts[req.URL]
	var a fakeAttempt
	if ok {
		a = seq[0]
		if len(seq) > 1 {
			f.attempts[req.URL] = seq[1:]
		}
	}
	f.mu.Unlock()

	if hook != nil {
		hook(req.URL)
	}
	if err := ctx.Err(); err != nil {
		return FetchResponse{}, err
	}
	if !ok {
		return FetchResponse{URL: req.URL, StatusCode: 404, Duration: time.Millisecond}, nil
	}
	if a.err != nil {
		return FetchResponse{Duration: time.Millisecond}, a.err
	}
	return FetchResponse{
		URL:           req.URL,
		StatusCode:    a.status,
		ContentType:   "text/html; charset=utf-8",
		ContentLength: int64(len(a.body)),
		Body:          []byte(a.body),
		Duration:      5 * time.Millisecond,
	}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFetcher) CallCount(u string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == u {
			n++
		}
	}
	return n
}

// lineExtractor reads "key:value" lines: title, desc, h1 and link.
type lineExtractor struct {
	panicOn string
}

func (x lineExtractor) Extract(pageURL string, body []byte, _ bool) (PageFields, error) {
	if x.panicOn != "" && strings.HasSuffix(pageURL, x.panicOn) {
		panic("extractor exploded")
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return PageFields{}, err
	}
	var fields PageFields
	for _, line := range strings.Split(string(body), "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		switch key {
		case "title":
			fields.Title = val
		case "desc":
			fields.MetaDescription = val
		case "h1":
			fields.H1 = append(fields.H1, val)
		case "link":
			ref, err := url.Parse(val)
			if err != nil {
				fields.SkippedElements++
				continue
			}
			fields.Links = append(fields.Links, Link{URL: base.ResolveReference(ref).String(), AnchorText: val})
		}
	}
	fields.WordCount = len(strings.Fields(fields.Title))
	return fields, nil
}

type fakeSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *fakeSleeper) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeRunStore struct {
	mu      sync.Mutex
	runs    map[string]AuditRun
	saves   int
	saveErr error
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]AuditRun)}
}

func (s *fakeRunStore) CreateRun(_ context.Context, run AuditRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *fakeRunStore) SaveRun(_ context.Context, run AuditRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil && run.Status == StatusCrawling {
		return s.saveErr
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *fakeRunStore) GetRun(_ context.Context, runID string) (AuditRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return AuditRun{}, ErrNotFound
	}
	return run.Clone(), nil
}

func (s *fakeRunStore) ListRuns(context.Context, ListQuery) ([]AuditRun, int, error) {
	return nil, 0, errors.New("not implemented")
}

func (s *fakeRunStore) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}

type fakeRobots struct {
	disallow map[string]bool
}

func (r fakeRobots) Allowed(_ context.Context, rawURL string, _ string) bool {
	return !r.disallow[rawURL]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload)
	return "msg-1", nil
}

type fakeArchiver struct {
	err error
}

func (a fakeArchiver) Archive(_ context.Context, run AuditRun) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "mem://reports/" + run.ID + ".csv", nil
}
