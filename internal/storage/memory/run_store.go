package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
)

// RunStore provides an in-memory RunStore for development and tests.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]crawler.AuditRun
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]crawler.AuditRun)}
}

// CreateRun stores a new run. Creating an existing id is a conflict.
func (s *RunStore) CreateRun(_ context.Context, run crawler.AuditRun) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("create run %s: %w", run.ID, crawler.ErrConflict)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// SaveRun replaces a stored run.
func (s *RunStore) SaveRun(_ context.Context, run crawler.AuditRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("save run %s: %w", run.ID, crawler.ErrNotFound)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// GetRun fetches a run by id, pages and frontier included.
func (s *RunStore) GetRun(_ context.Context, runID string) (crawler.AuditRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.AuditRun{}, crawler.ErrNotFound
	}
	return run.Clone(), nil
}

// ListRuns filters, sorts and pages runs. Returned runs omit pages and the
// frontier snapshot; the int result is the total match count.
func (s *RunStore) ListRuns(_ context.Context, query crawler.ListQuery) ([]crawler.AuditRun, int, error) {
	query = query.WithDefaults()

	s.mu.RLock()
	matched := make([]crawler.AuditRun, 0, len(s.runs))
	for _, run := range s.runs {
		if query.Matches(run) {
			run.Pages = nil
			run.Frontier = nil
			matched = append(matched, run.Clone())
		}
	}
	s.mu.RUnlock()

	sortRuns(matched, query.SortBy, query.SortOrder == "asc")

	total := len(matched)
	start := query.Offset()
	if start >= total {
		return []crawler.AuditRun{}, total, nil
	}
	end := start + query.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// DeleteRun removes a run.
func (s *RunStore) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return crawler.ErrNotFound
	}
	delete(s.runs, runID)
	return nil
}

func sortRuns(runs []crawler.AuditRun, by string, asc bool) {
	less := func(a, b crawler.AuditRun) int {
		switch by {
		case crawler.SortByName:
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		case crawler.SortByStatus:
			return strings.Compare(string(a.Status), string(b.Status))
		case crawler.SortByBaseURL:
			return strings.Compare(a.BaseURL, b.BaseURL)
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.SliceStable(runs, func(i, j int) bool {
		c := less(runs[i], runs[j])
		if c == 0 {
			c = strings.Compare(runs[i].ID, runs[j].ID)
		}
		if asc {
			return c < 0
		}
		return c > 0
	})
}
