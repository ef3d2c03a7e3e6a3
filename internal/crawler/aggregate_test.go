package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()

	summary, issues := Aggregate(nil)
	require.Zero(t, summary.TotalPages)
	require.Zero(t, summary.AverageResponseTime)
	require.Zero(t, issues.Total())
}

func TestAggregateDuplicateTitlesCountsDistinctValues(t *testing.T) {
	t.Parallel()

	pages := []CrawledPage{
		{URL: "https://a.com/1", StatusCode: 200, PageFields: PageFields{Title: "Home"}},
		{URL: "https://a.com/2", StatusCode: 200, PageFields: PageFields{Title: "Home"}},
		{URL: "https://a.com/3", StatusCode: 200, PageFields: PageFields{Title: "About"}},
	}
	_, issues := Aggregate(pages)
	require.Equal(t, 1, issues.DuplicateTitles)
}

func TestAggregateDuplicateBlankValuesCountOnce(t *testing.T) {
	t.Parallel()

	pages := []CrawledPage{
		{URL: "https://a.com/1", StatusCode: 200},
		{URL: "https://a.com/2", StatusCode: 200},
		{URL: "https://a.com/3", StatusCode: 200, PageFields: PageFields{Title: "About", MetaDescription: "About us"}},
	}
	_, issues := Aggregate(pages)
	require.Equal(t, 2, issues.MissingTitles)
	require.Equal(t, 1, issues.DuplicateTitles)
	require.Equal(t, 1, issues.DuplicateDescriptions)
}

func TestAggregateCounters(t *testing.T) {
	t.Parallel()

	pages := []CrawledPage{
		{
			URL: "https://a.com/", StatusCode: 200, ResponseTime: 100, ContentLength: 1000,
			PageFields: PageFields{
				Title: "Home", MetaDescription: "Welcome", H1: []string{"Hi"}, WordCount: 10,
				Images: []Image{{Src: "https://a.com/x.png"}},
			},
			InternalLinks: []Link{{URL: "https://a.com/b"}, {URL: "https://a.com/c"}},
			ExternalLinks: []Link{{URL: "https://o.com/"}},
		},
		{
			URL: "https://a.com/b", StatusCode: 200, ResponseTime: 3500, ContentLength: 6_000_000,
			PageFields: PageFields{Title: "   ", MetaDescription: "Welcome", H1: []string{"One", "Two"}, WordCount: 5},
		},
		{
			URL: "https://a.com/c", StatusCode: 301, ResponseTime: 20,
			PageFields: PageFields{Title: "Home", WordCount: 0},
		},
		{URL: "https://a.com/d", StatusCode: 404, ResponseTime: 3001},
		{URL: "https://a.com/e", StatusCode: 0, Error: "fetch failed"},
		{URL: "https://a.com/f", StatusCode: 500, ResponseTime: 40},
	}

	summary, issues := Aggregate(pages)

	require.Equal(t, 6, summary.TotalPages)
	require.Equal(t, 2, summary.CrawledPages)
	require.Equal(t, 2, summary.ErrorPages)
	require.Equal(t, 1, summary.RedirectPages)
	require.Equal(t, int64(6661), summary.TotalResponseTime)
	require.Equal(t, int64(1110), summary.AverageResponseTime, "6661/6 rounds to nearest")
	require.Equal(t, 15, summary.TotalWordCount)
	require.Equal(t, 3, summary.AverageWordCount, "15/6 = 2.5 rounds half away from zero")
	require.Equal(t, 1, summary.TotalImages)
	require.Equal(t, 2, summary.TotalInternalLinks)
	require.Equal(t, 1, summary.TotalExternalLinks)
	require.Equal(t, map[int]int{200: 2, 301: 1, 404: 1, 0: 1, 500: 1}, summary.StatusCodes)

	require.Equal(t, 4, issues.MissingTitles, "blank, whitespace-only and error pages")
	require.Equal(t, 4, issues.MissingDescriptions)
	require.Equal(t, 2, issues.DuplicateTitles, `"Home" and the repeated empty title`)
	require.Equal(t, 2, issues.DuplicateDescriptions, `"Welcome" and the repeated empty description`)
	require.Equal(t, 4, issues.MissingH1)
	require.Equal(t, 1, issues.MultipleH1)
	require.Equal(t, 2, issues.BrokenLinks)
	require.Zero(t, issues.RedirectChains)
	require.Equal(t, 2, issues.SlowPages)
	require.Equal(t, 1, issues.LargePages)
	require.Equal(t, 4+4+2+2, issues.Total())
}

func TestAggregateMissingTitlesMatchesBlankTitles(t *testing.T) {
	t.Parallel()

	titles := []string{"", " ", "\t\n", "Real", "  Padded  ", ""}
	pages := make([]CrawledPage, 0, len(titles))
	blank := 0
	for i, title := range titles {
		pages = append(pages, CrawledPage{URL: "https://a.com/" + string(rune('a'+i)), PageFields: PageFields{Title: title}})
		if isBlank(title) {
			blank++
		}
	}
	_, issues := Aggregate(pages)
	require.Equal(t, blank, issues.MissingTitles)
	require.Equal(t, 4, issues.MissingTitles)
}
