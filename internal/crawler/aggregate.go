package crawler

import (
	"math"
	"strings"
)

// Issue thresholds.
const (
	SlowPageThresholdMs    = 3000
	LargePageThresholdByte = 5_000_000
)

// Aggregate computes the run summary and issue counters over pages. It is pure
// and is rerun in full whenever a run finalizes.
func Aggregate(pages []CrawledPage) (Summary, Issues) {
	summary := Summary{
		TotalPages:  len(pages),
		StatusCodes: make(map[int]int),
	}
	var issues Issues

	titles := make(map[string]int, len(pages))
	descriptions := make(map[string]int, len(pages))

	for _, p := range pages {
		summary.StatusCodes[p.StatusCode]++
		switch {
		case p.StatusCode == 200:
			summary.CrawledPages++
		case p.StatusCode >= 400:
			summary.ErrorPages++
		case p.StatusCode >= 300:
			summary.RedirectPages++
		}
		summary.TotalResponseTime += p.ResponseTime
		summary.TotalWordCount += p.WordCount
		summary.TotalImages += len(p.Images)
		summary.TotalInternalLinks += len(p.InternalLinks)
		summary.TotalExternalLinks += len(p.ExternalLinks)

		if isBlank(p.Title) {
			issues.MissingTitles++
		}
		if isBlank(p.MetaDescription) {
			issues.MissingDescriptions++
		}
		// Values are compared verbatim, so repeated blanks form one duplicate.
		titles[p.Title]++
		descriptions[p.MetaDescription]++
		switch len(p.H1) {
		case 0:
			issues.MissingH1++
		case 1:
		default:
			issues.MultipleH1++
		}
		if p.StatusCode >= 400 {
			issues.BrokenLinks++
		}
		if p.ResponseTime > SlowPageThresholdMs {
			issues.SlowPages++
		}
		if p.ContentLength > LargePageThresholdByte {
			issues.LargePages++
		}
	}

	if n := len(pages); n > 0 {
		summary.AverageResponseTime = int64(math.Round(float64(summary.TotalResponseTime) / float64(n)))
		summary.AverageWordCount = int(math.Round(float64(summary.TotalWordCount) / float64(n)))
	}
	issues.DuplicateTitles = countDuplicated(titles)
	issues.DuplicateDescriptions = countDuplicated(descriptions)
	return summary, issues
}

// countDuplicated returns how many distinct values occur more than once.
func countDuplicated(values map[string]int) int {
	n := 0
	for _, c := range values {
		if c > 1 {
			n++
		}
	}
	return n
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
