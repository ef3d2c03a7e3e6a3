package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit-crawler/internal/audit"
	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
)

const maxCreateBody = 1 << 20

func (s *Server) createAudit(w http.ResponseWriter, r *http.Request) {
	var req audit.CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	run, err := s.service.Start(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) listAudits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit, err := parsePaging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.service.List(r.Context(), crawler.ListQuery{
		ClientID:  strings.TrimSpace(q.Get("clientId")),
		Status:    crawler.Status(strings.ToLower(strings.TrimSpace(q.Get("status")))),
		Search:    q.Get("search"),
		SortBy:    q.Get("sortBy"),
		SortOrder: strings.ToLower(q.Get("sortOrder")),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.Get(r.Context(), auditID(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) deleteAudit(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), auditID(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pauseAudit(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.service.Pause, func(st crawler.Status) bool { return st != crawler.StatusCrawling })
}

// resumeAudit answers 200 with the run still paused; the worker moves it to
// crawling once it picks up the queued item.
func (s *Server) resumeAudit(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.service.Resume, nil)
}

func (s *Server) stopAudit(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.service.Stop, crawler.Status.IsTerminal)
}

// control applies action and answers 202 when the returned run has not
// settled yet: the loop is still finishing its in-flight fetch and will apply
// the request at its next checkpoint.
func (s *Server) control(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, runID string) (crawler.AuditRun, error),
	settled func(crawler.Status) bool,
) {
	run, err := action(r.Context(), auditID(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	code := http.StatusOK
	if settled != nil && !settled(run.Status) {
		code = http.StatusAccepted
	}
	writeJSON(w, code, run)
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit, err := parsePaging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	codes, err := parseStatusCodes(q["statusCode"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.service.Pages(r.Context(), auditID(r), audit.PageQuery{
		StatusCodes: codes,
		Search:      q.Get("search"),
		IssueType:   strings.TrimSpace(q.Get("issueType")),
		SortBy:      q.Get("sortBy"),
		SortOrder:   strings.ToLower(q.Get("sortOrder")),
		Page:        page,
		Limit:       limit,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.service.Summary(r.Context(), auditID(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.service.Export(r.Context(), auditID(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("write export failed", zap.String("audit_id", auditID(r)), zap.Error(err))
	}
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.service.Dashboard(r.Context(), strings.TrimSpace(r.URL.Query().Get("clientId")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func auditID(r *http.Request) string {
	return chi.URLParam(r, "audit_id")
}

// parsePaging reads page and limit. Missing values are left zero for the
// service defaults.
func parsePaging(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	page, limit := 0, 0
	if raw := q.Get("page"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid page")
		}
		page = val
	}
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = val
	}
	return page, limit, nil
}

// parseStatusCodes accepts repeated and comma separated statusCode values.
func parseStatusCodes(values []string) ([]int, error) {
	var out []int
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			code, err := strconv.Atoi(part)
			// 0 marks pages whose fetch failed without a response.
			if err != nil || (code != 0 && (code < 100 || code > 599)) {
				return nil, fmt.Errorf("invalid statusCode %q", part)
			}
			out = append(out, code)
		}
	}
	return out, nil
}
