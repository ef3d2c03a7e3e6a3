package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListQueryWithDefaults(t *testing.T) {
	q := ListQuery{Page: -3, Limit: 500, SortBy: "bogus", SortOrder: "ASC", Search: "  shop "}.WithDefaults()
	require.Equal(t, 1, q.Page)
	require.Equal(t, MaxListLimit, q.Limit)
	require.Equal(t, SortByCreatedAt, q.SortBy)
	require.Equal(t, "desc", q.SortOrder)
	require.Equal(t, "shop", q.Search)

	q = ListQuery{SortBy: SortByName, SortOrder: "asc"}.WithDefaults()
	require.Equal(t, DefaultListLimit, q.Limit)
	require.Equal(t, SortByName, q.SortBy)
	require.Equal(t, "asc", q.SortOrder)
	require.Zero(t, q.Offset())

	require.Equal(t, 40, ListQuery{Page: 3, Limit: 20}.Offset())
}

func TestListQueryMatches(t *testing.T) {
	run := AuditRun{Name: "Acme Shop", BaseURL: "https://shop.acme.test", ClientID: "acme", Status: StatusCompleted}

	cases := []struct {
		name  string
		query ListQuery
		want  bool
	}{
		{"empty", ListQuery{}, true},
		{"client", ListQuery{ClientID: "acme"}, true},
		{"other client", ListQuery{ClientID: "globex"}, false},
		{"status", ListQuery{Status: StatusCompleted}, true},
		{"other status", ListQuery{Status: StatusFailed}, false},
		{"name search", ListQuery{Search: "SHOP"}, true},
		{"url search", ListQuery{Search: "acme.test"}, true},
		{"no match", ListQuery{Search: "blog"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.query.Matches(run))
		})
	}
}
