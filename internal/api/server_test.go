package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit-crawler/internal/audit"
	"github.com/JakeFAU/site-audit-crawler/internal/config"
	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
)

const testRunID = "0190f5d2-6b7e-7c3a-9f1e-2d4b6a8c0e12"

type fakeService struct {
	runs      map[string]crawler.AuditRun
	started   []audit.CreateRequest
	listQuery crawler.ListQuery
	pageQuery audit.PageQuery
	deleted   []string
	controlFn func(runID string) (crawler.AuditRun, error)
	panicOn   string
}

func newFakeService() *fakeService {
	return &fakeService{runs: map[string]crawler.AuditRun{
		testRunID: {ID: testRunID, Name: "Example", BaseURL: "https://example.com", Status: crawler.StatusCrawling},
	}}
}

func (f *fakeService) Start(_ context.Context, req audit.CreateRequest) (crawler.AuditRun, error) {
	if req.Name == "" {
		return crawler.AuditRun{}, &crawler.ValidationError{Field: "name", Message: "is required"}
	}
	f.started = append(f.started, req)
	return crawler.AuditRun{ID: testRunID, Name: req.Name, BaseURL: req.BaseURL, Status: crawler.StatusPending}, nil
}

func (f *fakeService) Get(_ context.Context, runID string) (crawler.AuditRun, error) {
	if runID == f.panicOn {
		panic("boom")
	}
	run, ok := f.runs[runID]
	if !ok {
		return crawler.AuditRun{}, crawler.ErrNotFound
	}
	return run, nil
}

func (f *fakeService) List(_ context.Context, q crawler.ListQuery) (audit.RunList, error) {
	f.listQuery = q
	return audit.RunList{
		Data:       []crawler.AuditRun{f.runs[testRunID]},
		Pagination: audit.Pagination{Total: 1, Page: 1, Limit: 20, Pages: 1},
	}, nil
}

func (f *fakeService) control(runID string) (crawler.AuditRun, error) {
	if f.controlFn != nil {
		return f.controlFn(runID)
	}
	return f.Get(context.Background(), runID)
}

func (f *fakeService) Pause(_ context.Context, runID string) (crawler.AuditRun, error) {
	return f.control(runID)
}

func (f *fakeService) Resume(_ context.Context, runID string) (crawler.AuditRun, error) {
	return f.control(runID)
}

func (f *fakeService) Stop(_ context.Context, runID string) (crawler.AuditRun, error) {
	return f.control(runID)
}

func (f *fakeService) Delete(_ context.Context, runID string) error {
	if _, ok := f.runs[runID]; !ok {
		return crawler.ErrNotFound
	}
	f.deleted = append(f.deleted, runID)
	return nil
}

func (f *fakeService) Pages(_ context.Context, runID string, q audit.PageQuery) (audit.PageList, error) {
	f.pageQuery = q
	if q.IssueType == "nope" {
		return audit.PageList{}, &crawler.ValidationError{Field: "issueType", Message: "is not a known issue type"}
	}
	return audit.PageList{Data: []crawler.CrawledPage{{URL: "https://example.com/", StatusCode: 200}}}, nil
}

func (f *fakeService) Summary(_ context.Context, runID string) (audit.RunSummary, error) {
	return audit.RunSummary{RunID: runID, Status: crawler.StatusCompleted, Summary: crawler.Summary{TotalPages: 3}}, nil
}

func (f *fakeService) Dashboard(_ context.Context, clientID string) (audit.Dashboard, error) {
	return audit.Dashboard{Stats: audit.DashboardStats{TotalAudits: 4}, ClientBreakdown: []audit.ClientStats{{ClientID: clientID}}}, nil
}

func (f *fakeService) Export(_ context.Context, runID string) (string, []byte, error) {
	return "audit-example-2026-03-01.csv", []byte("URL\nhttps://example.com/\n"), nil
}

func newTestServer(svc *fakeService, opts Options) *Server {
	return NewServer(svc, opts, zap.NewNop())
}

func do(t *testing.T, s *Server, method, target string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	s := newTestServer(newFakeService(), Options{})
	rec := do(t, s, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, s, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	notReady := newTestServer(newFakeService(), Options{Ready: func(context.Context) error { return errors.New("db down") }})
	rec = do(t, notReady, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(newFakeService(), Options{})
	rec := do(t, s, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_CreateAudit(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	s := newTestServer(svc, Options{})
	body := []byte(`{"name":"Example","baseUrl":"https://example.com","clientId":"acme","crawlSettings":{"maxPages":5,"crawlImages":false}}`)
	rec := do(t, s, http.MethodPost, "/v1/audits", body, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	var run crawler.AuditRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.Equal(t, crawler.StatusPending, run.Status)
	require.Len(t, svc.started, 1)
	require.Equal(t, 5, svc.started[0].Settings.MaxPages)
	require.NotNil(t, svc.started[0].Settings.CrawlImages)
	require.False(t, *svc.started[0].Settings.CrawlImages)
	require.Nil(t, svc.started[0].Settings.RespectRobotsTxt)
}

func TestServer_CreateAuditErrors(t *testing.T) {
	t.Parallel()

	s := newTestServer(newFakeService(), Options{})
	rec := do(t, s, http.MethodPost, "/v1/audits", []byte("{invalid"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/audits", []byte(`{"baseUrl":"https://example.com"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "name")
}

func TestServer_ListAudits(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	s := newTestServer(svc, Options{})
	rec := do(t, s, http.MethodGet, "/v1/audits?clientId=acme&status=Completed&search=shop&sortBy=name&sortOrder=ASC&page=2&limit=10", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, crawler.ListQuery{
		ClientID: "acme", Status: crawler.StatusCompleted, Search: "shop",
		SortBy: "name", SortOrder: "asc", Page: 2, Limit: 10,
	}, svc.listQuery)

	var body struct {
		Data       []map[string]any `json:"data"`
		Pagination audit.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	require.Equal(t, 1, body.Pagination.Total)

	rec = do(t, s, http.MethodGet, "/v1/audits?limit=abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetAudit(t *testing.T) {
	t.Parallel()

	s := newTestServer(newFakeService(), Options{})
	rec := do(t, s, http.MethodGet, "/v1/audits/"+testRunID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"crawling"`)

	rec = do(t, s, http.MethodGet, "/v1/audits/not-a-uuid", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/audits/0190f5d2-6b7e-7c3a-9f1e-000000000000", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ControlConflict(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.controlFn = func(runID string) (crawler.AuditRun, error) {
		return crawler.AuditRun{}, &crawler.ConflictError{RunID: runID, From: crawler.StatusCompleted, Action: crawler.ActionPause}
	}
	s := newTestServer(svc, Options{})
	for _, action := range []string{"pause", "resume", "stop"} {
		rec := do(t, s, http.MethodPost, "/v1/audits/"+testRunID+"/"+action, nil, nil)
		require.Equal(t, http.StatusConflict, rec.Code, action)
	}
}

func TestServer_ControlSucceeds(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.controlFn = func(runID string) (crawler.AuditRun, error) {
		return crawler.AuditRun{ID: runID, Status: crawler.StatusPaused}, nil
	}
	s := newTestServer(svc, Options{})
	rec := do(t, s, http.MethodPost, "/v1/audits/"+testRunID+"/pause", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"paused"`)
}

func TestServer_ControlAcceptedWhileLoopFinishes(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.controlFn = func(runID string) (crawler.AuditRun, error) {
		return crawler.AuditRun{ID: runID, Status: crawler.StatusCrawling}, nil
	}
	s := newTestServer(svc, Options{})
	for _, action := range []string{"pause", "stop"} {
		rec := do(t, s, http.MethodPost, "/v1/audits/"+testRunID+"/"+action, nil, nil)
		require.Equal(t, http.StatusAccepted, rec.Code, action)
		require.Contains(t, rec.Body.String(), `"status":"crawling"`)
	}

	svc.controlFn = func(runID string) (crawler.AuditRun, error) {
		return crawler.AuditRun{ID: runID, Status: crawler.StatusPaused}, nil
	}
	rec := do(t, s, http.MethodPost, "/v1/audits/"+testRunID+"/stop", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, "stop settles only at a terminal status")
	rec = do(t, s, http.MethodPost, "/v1/audits/"+testRunID+"/resume", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	svc.controlFn = func(runID string) (crawler.AuditRun, error) {
		return crawler.AuditRun{ID: runID, Status: crawler.StatusCompleted}, nil
	}
	rec = do(t, s, http.MethodPost, "/v1/audits/"+testRunID+"/stop", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_DeleteAudit(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	s := newTestServer(svc, Options{})
	rec := do(t, s, http.MethodDelete, "/v1/audits/"+testRunID, nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{testRunID}, svc.deleted)
}

func TestServer_ListPages(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	s := newTestServer(svc, Options{})
	rec := do(t, s, http.MethodGet,
		"/v1/audits/"+testRunID+"/pages?statusCode=200&statusCode=301,404&search=blog&issueType=missing-h1&sortBy=wordCount&sortOrder=desc&limit=5",
		nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, audit.PageQuery{
		StatusCodes: []int{200, 301, 404},
		Search:      "blog",
		IssueType:   "missing-h1",
		SortBy:      "wordCount",
		SortOrder:   "desc",
		Limit:       5,
	}, svc.pageQuery)

	rec = do(t, s, http.MethodGet, "/v1/audits/"+testRunID+"/pages?statusCode=0,500", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int{0, 500}, svc.pageQuery.StatusCodes, "0 selects pages that failed without a response")

	rec = do(t, s, http.MethodGet, "/v1/audits/"+testRunID+"/pages?statusCode=abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/audits/"+testRunID+"/pages?statusCode=42", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/audits/"+testRunID+"/pages?issueType=nope", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SummaryAndDashboard(t *testing.T) {
	t.Parallel()

	s := newTestServer(newFakeService(), Options{})
	rec := do(t, s, http.MethodGet, "/v1/audits/"+testRunID+"/summary", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"totalPages":3`)

	rec = do(t, s, http.MethodGet, "/v1/dashboard?clientId=acme", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"totalAudits":4`)
	require.Contains(t, rec.Body.String(), `"clientId":"acme"`)
}

func TestServer_Export(t *testing.T) {
	t.Parallel()

	s := newTestServer(newFakeService(), Options{})
	rec := do(t, s, http.MethodGet, "/v1/audits/"+testRunID+"/export", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="audit-example-2026-03-01.csv"`, rec.Header().Get("Content-Disposition"))
	require.Contains(t, rec.Body.String(), "https://example.com/")
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	s := newTestServer(newFakeService(), Options{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})
	rec := do(t, s, http.MethodGet, "/v1/audits", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/audits", nil, map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.panicOn = testRunID
	s := newTestServer(svc, Options{})
	rec := do(t, s, http.MethodGet, "/v1/audits/"+testRunID, nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_InternalErrorHidesDetail(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.controlFn = func(string) (crawler.AuditRun, error) {
		return crawler.AuditRun{}, errors.New("pq: connection reset")
	}
	s := newTestServer(svc, Options{})
	rec := do(t, s, http.MethodPost, "/v1/audits/"+testRunID+"/stop", nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "pq")
}
