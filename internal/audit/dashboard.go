package audit

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
	"github.com/JakeFAU/site-audit-crawler/internal/report"
)

// RecentAuditCount is how many runs the dashboard lists as recent.
const RecentAuditCount = 5

// DashboardStats are totals across the selected runs.
type DashboardStats struct {
	TotalAudits       int `json:"totalAudits"`
	CompletedAudits   int `json:"completedAudits"`
	RunningAudits     int `json:"runningAudits"`
	FailedAudits      int `json:"failedAudits"`
	TotalPagesCrawled int `json:"totalPagesCrawled"`
	TotalIssuesFound  int `json:"totalIssuesFound"`
}

// ClientStats are per-client totals.
type ClientStats struct {
	ClientID    string `json:"clientId"`
	AuditCount  int    `json:"auditCount"`
	TotalPages  int    `json:"totalPages"`
	TotalIssues int    `json:"totalIssues"`
}

// Dashboard is the overview read model.
type Dashboard struct {
	Stats           DashboardStats     `json:"stats"`
	RecentAudits    []crawler.AuditRun `json:"recentAudits"`
	ClientBreakdown []ClientStats      `json:"clientBreakdown"`
}

// Dashboard summarizes every run, or only clientID's runs when set. Issue
// totals use Issues.Total for both the headline and per-client figures.
func (s *Service) Dashboard(ctx context.Context, clientID string) (Dashboard, error) {
	runs, err := s.allRuns(ctx, crawler.ListQuery{
		ClientID:  clientID,
		SortBy:    crawler.SortByCreatedAt,
		SortOrder: "desc",
	})
	if err != nil {
		return Dashboard{}, err
	}

	var d Dashboard
	byClient := make(map[string]*ClientStats)
	for _, run := range runs {
		d.Stats.TotalAudits++
		switch run.Status {
		case crawler.StatusCompleted:
			d.Stats.CompletedAudits++
		case crawler.StatusCrawling:
			d.Stats.RunningAudits++
		case crawler.StatusFailed:
			d.Stats.FailedAudits++
		}
		d.Stats.TotalPagesCrawled += run.Summary.CrawledPages
		d.Stats.TotalIssuesFound += run.Issues.Total()

		if run.ClientID == "" {
			continue
		}
		cs, ok := byClient[run.ClientID]
		if !ok {
			cs = &ClientStats{ClientID: run.ClientID}
			byClient[run.ClientID] = cs
		}
		cs.AuditCount++
		cs.TotalPages += run.Summary.CrawledPages
		cs.TotalIssues += run.Issues.Total()
	}

	n := min(RecentAuditCount, len(runs))
	d.RecentAudits = append(make([]crawler.AuditRun, 0, n), runs[:n]...)

	d.ClientBreakdown = make([]ClientStats, 0, len(byClient))
	for _, cs := range byClient {
		d.ClientBreakdown = append(d.ClientBreakdown, *cs)
	}
	sort.Slice(d.ClientBreakdown, func(i, j int) bool {
		return d.ClientBreakdown[i].ClientID < d.ClientBreakdown[j].ClientID
	})
	return d, nil
}

// Export renders a run's pages as CSV and returns the attachment filename.
func (s *Service) Export(ctx context.Context, runID string) (string, []byte, error) {
	run, err := s.Get(ctx, runID)
	if err != nil {
		return "", nil, err
	}
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, run.Pages); err != nil {
		return "", nil, fmt.Errorf("export run %s: %w", runID, err)
	}
	return report.Filename(run.Name, s.clock.Now()), buf.Bytes(), nil
}
