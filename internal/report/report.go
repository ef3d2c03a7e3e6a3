// Package report renders audit runs as fixed-column CSV and archives the
// result in a blob store.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
)

// ContentType is the media type of rendered reports.
const ContentType = "text/csv"

// Columns is the header row, in output order.
var Columns = []string{
	"URL",
	"Status Code",
	"Title",
	"Title Length",
	"Meta Description",
	"Meta Description Length",
	"H1 Count",
	"Word Count",
	"Internal Links",
	"External Links",
	"Images",
	"Response Time (ms)",
	"Content Length",
	"Canonical URL",
	"Meta Robots",
	"Crawl Depth",
}

// WriteCSV writes the header and one row per page.
func WriteCSV(w io.Writer, pages []crawler.CrawledPage) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range pages {
		if err := cw.Write(row(&pages[i])); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func row(p *crawler.CrawledPage) []string {
	itoa := strconv.Itoa
	return []string{
		p.URL,
		itoa(p.StatusCode),
		p.Title,
		itoa(utf8.RuneCountInString(p.Title)),
		p.MetaDescription,
		itoa(utf8.RuneCountInString(p.MetaDescription)),
		itoa(len(p.H1)),
		itoa(p.WordCount),
		itoa(len(p.InternalLinks)),
		itoa(len(p.ExternalLinks)),
		itoa(len(p.Images)),
		strconv.FormatInt(p.ResponseTime, 10),
		strconv.FormatInt(p.ContentLength, 10),
		p.CanonicalURL,
		p.RobotsMeta,
		itoa(p.CrawlDepth),
	}
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Filename is the attachment name for a run export taken on day at.
func Filename(runName string, at time.Time) string {
	name := strings.ToLower(unsafeName.ReplaceAllString(runName, "_"))
	return fmt.Sprintf("audit-%s-%s.csv", name, at.UTC().Format("2006-01-02"))
}

// Archiver stores the CSV export of finished runs.
type Archiver struct {
	store  crawler.BlobStore
	prefix string
	clock  crawler.Clock
}

// NewArchiver returns an Archiver writing under prefix.
func NewArchiver(store crawler.BlobStore, prefix string, clock crawler.Clock) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/"), clock: clock}, nil
}

// Archive renders run and uploads it, returning the object URI.
func (a *Archiver) Archive(ctx context.Context, run crawler.AuditRun) (string, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, run.Pages); err != nil {
		return "", err
	}
	path := a.Path(run)
	uri, err := a.store.PutObject(ctx, path, ContentType, &buf)
	if err != nil {
		return "", fmt.Errorf("archive report %s: %w", run.ID, err)
	}
	return uri, nil
}

// Path is the object path for run's report.
func (a *Archiver) Path(run crawler.AuditRun) string {
	file := Filename(run.Name, a.clock.Now())
	if a.prefix == "" {
		return fmt.Sprintf("%s/%s", run.ID, file)
	}
	return fmt.Sprintf("%s/%s/%s", a.prefix, run.ID, file)
}
