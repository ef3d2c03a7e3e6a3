package crawler

import "strings"

// Listing defaults and bounds.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Sort keys accepted by ListRuns.
const (
	SortByCreatedAt = "createdAt"
	SortByName      = "name"
	SortByStatus    = "status"
	SortByBaseURL   = "baseUrl"
)

// WithDefaults clamps paging and replaces unknown sort keys.
func (q ListQuery) WithDefaults() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	switch q.SortBy {
	case SortByCreatedAt, SortByName, SortByStatus, SortByBaseURL:
	default:
		q.SortBy = SortByCreatedAt
	}
	if q.SortOrder != "asc" {
		q.SortOrder = "desc"
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// Offset is the zero-based index of the first row on the requested page.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Matches applies the client, status and search filters to one run. Search is
// a case-insensitive substring match on name or base URL.
func (q ListQuery) Matches(run AuditRun) bool {
	if q.ClientID != "" && run.ClientID != q.ClientID {
		return false
	}
	if q.Status != "" && run.Status != q.Status {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(run.Name), needle) &&
			!strings.Contains(strings.ToLower(run.BaseURL), needle) {
			return false
		}
	}
	return true
}
