package crawler

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrontierFIFOAndDedup(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	require.True(t, f.Enqueue("https://a.com/", 0))
	require.True(t, f.Enqueue("https://a.com/b", 1))
	require.False(t, f.Enqueue("https://a.com/b#frag", 1), "fragment variants share a key")
	require.True(t, f.Enqueue("https://a.com/c", 1))
	require.Equal(t, 3, f.Len())
	require.True(t, f.IsQueued("https://A.com/b"))

	var order []string
	for {
		e, ok := f.Dequeue()
		if !ok {
			break
		}
		order = append(order, e.URL)
	}
	require.Equal(t, []string{"https://a.com/", "https://a.com/b", "https://a.com/c"}, order)
	require.Zero(t, f.Len())
	require.False(t, f.IsQueued("https://a.com/b"))
}

func TestFrontierVisitedNeverRequeued(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	f.MarkVisited("https://a.com/x#top")
	require.True(t, f.IsVisited("https://a.com/x"))
	require.False(t, f.Enqueue("https://a.com/x", 2))
	require.Zero(t, f.Len())
	require.Equal(t, 1, f.VisitedCount())
}

func TestFrontierSnapshotRestore(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	f.Enqueue("https://a.com/", 0)
	f.Enqueue("https://a.com/b", 1)
	f.Enqueue("https://a.com/c", 1)
	first, ok := f.Dequeue()
	require.True(t, ok)
	f.MarkVisited(first.URL)

	restored := RestoreFrontier(f.Snapshot())
	require.Equal(t, 2, restored.Len())
	require.True(t, restored.IsVisited("https://a.com/"))
	require.False(t, restored.Enqueue("https://a.com/", 0))

	next, ok := restored.Dequeue()
	require.True(t, ok)
	require.Equal(t, FrontierEntry{URL: "https://a.com/b", Depth: 1}, next)
}

func TestFrontierRequeue(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	f.Enqueue("https://a.com/a", 0)
	f.Enqueue("https://a.com/b", 0)
	e, _ := f.Dequeue()
	f.MarkVisited(e.URL)

	f.Requeue(e)
	require.False(t, f.IsVisited(e.URL))
	again, ok := f.Dequeue()
	require.True(t, ok)
	require.Equal(t, e, again)

	// requeue into an empty head slot prepends
	g := NewFrontier()
	g.Enqueue("https://a.com/z", 0)
	g.Requeue(FrontierEntry{URL: "https://a.com/y", Depth: 3})
	first, _ := g.Dequeue()
	require.Equal(t, "https://a.com/y", first.URL)
	require.Equal(t, 3, first.Depth)
}

func TestFrontierCompactsAfterManyDequeues(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	for i := 0; i < 3000; i++ {
		f.Enqueue("https://a.com/p?"+strconv.Itoa(i), 1)
	}
	for i := 0; i < 2500; i++ {
		e, ok := f.Dequeue()
		require.True(t, ok)
		require.Equal(t, "https://a.com/p?"+strconv.Itoa(i), e.URL)
	}
	require.Equal(t, 500, f.Len())
	e, ok := f.Dequeue()
	require.True(t, ok)
	require.Equal(t, "https://a.com/p?2500", e.URL)
}

func TestRebuildFrontier(t *testing.T) {
	t.Parallel()

	run := AuditRun{
		BaseURL: "https://a.com/",
		Pages: []CrawledPage{
			{URL: "https://a.com/", CrawlDepth: 0, InternalLinks: []Link{{URL: "https://a.com/b"}, {URL: "https://a.com/c"}}},
			{URL: "https://a.com/b", CrawlDepth: 1, InternalLinks: []Link{{URL: "https://a.com/d"}}},
		},
	}
	f := RebuildFrontier(run, 10)
	require.True(t, f.IsVisited("https://a.com/"))
	require.True(t, f.IsVisited("https://a.com/b"))
	require.Equal(t, 2, f.Len())

	c, _ := f.Dequeue()
	d, _ := f.Dequeue()
	require.Equal(t, FrontierEntry{URL: "https://a.com/c", Depth: 1}, c)
	require.Equal(t, FrontierEntry{URL: "https://a.com/d", Depth: 2}, d)

	shallow := RebuildFrontier(run, 1)
	require.Equal(t, 1, shallow.Len(), "links found at maxDepth are not followed")
}
