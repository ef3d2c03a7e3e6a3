package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit-crawler/internal/metrics"
)

// DefaultCheckpointEvery is how many pages are appended between progress saves.
const DefaultCheckpointEvery = 10

// EngineConfig wires an Engine. Publisher and Archiver are optional.
type EngineConfig struct {
	Store           RunStore
	Executor        *FetchExecutor
	Extractor       Extractor
	Controls        *Controls
	Clock           Clock
	Publisher       Publisher
	Topic           string
	Archiver        ReportArchiver
	CheckpointEvery int
	Logger          *zap.Logger
}

// Engine drives the breadth-first crawl of one run at a time per call and owns
// the run's lifecycle transitions while its loop is active.
type Engine struct {
	store           RunStore
	executor        *FetchExecutor
	extractor       Extractor
	controls        *Controls
	clock           Clock
	publisher       Publisher
	topic           string
	archiver        ReportArchiver
	checkpointEvery int
	logger          *zap.Logger
}

type outcome int

const (
	outcomeExhausted outcome = iota
	outcomeBudget
	outcomePaused
	outcomeStopped
)

func (o outcome) String() string {
	switch o {
	case outcomeBudget:
		return "budget"
	case outcomePaused:
		return "paused"
	case outcomeStopped:
		return "stopped"
	default:
		return "exhausted"
	}
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("engine requires a run store")
	case cfg.Executor == nil:
		return nil, errors.New("engine requires a fetch executor")
	case cfg.Extractor == nil:
		return nil, errors.New("engine requires an extractor")
	case cfg.Clock == nil:
		return nil, errors.New("engine requires a clock")
	}
	if cfg.Controls == nil {
		cfg.Controls = NewControls()
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		store:           cfg.Store,
		executor:        cfg.Executor,
		extractor:       cfg.Extractor,
		controls:        cfg.Controls,
		clock:           cfg.Clock,
		publisher:       cfg.Publisher,
		topic:           cfg.Topic,
		archiver:        cfg.Archiver,
		checkpointEvery: cfg.CheckpointEvery,
		logger:          cfg.Logger,
	}, nil
}

// Controls exposes the registry used to signal running loops.
func (e *Engine) Controls() *Controls {
	return e.controls
}

// Run crawls runID from pending (start) or paused (resume) until the frontier
// drains, the page budget is spent, or a pause/stop request is observed.
// Cancelling ctx suspends the run as paused so it can be resumed later.
// The returned run is the last persisted state.
func (e *Engine) Run(ctx context.Context, runID string) (AuditRun, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return AuditRun{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	ctrl, ok := e.controls.Register(runID)
	if !ok {
		return run, &ConflictError{RunID: runID, From: run.Status, Action: ActionStart}
	}
	defer e.controls.Release(runID, ctrl)

	frontier, err := e.begin(ctx, &run)
	if err != nil {
		return run, err
	}
	logger := e.logger.With(zap.String("run_id", run.ID), zap.String("base_url", run.BaseURL))
	logger.Info("crawl started", zap.Int("queued", frontier.Len()), zap.Int("pages", len(run.Pages)))

	out, loopErr := e.loop(ctx, ctrl, &run, frontier)
	persistCtx := context.WithoutCancel(ctx)
	if loopErr != nil {
		logger.Error("crawl loop failed", zap.Error(loopErr), zap.Int("pages", len(run.Pages)))
		orchErr := &OrchestrationError{RunID: run.ID, Err: loopErr}
		if err := e.Finish(persistCtx, &run, StatusFailed, loopErr); err != nil {
			return run, errors.Join(orchErr, err)
		}
		return run, orchErr
	}

	logger.Info("crawl loop exited", zap.Stringer("reason", out), zap.Int("pages", len(run.Pages)), zap.Int("queued", frontier.Len()))
	if out == outcomePaused {
		return run, e.suspend(persistCtx, &run, frontier)
	}
	return run, e.Finish(persistCtx, &run, StatusCompleted, nil)
}

// begin moves the run to crawling and builds its frontier.
func (e *Engine) begin(ctx context.Context, run *AuditRun) (*Frontier, error) {
	var frontier *Frontier
	switch run.Status {
	case StatusPending:
		now := e.clock.Now()
		run.StartTime = &now
		frontier = NewFrontier()
		frontier.Enqueue(run.BaseURL, 0)
	case StatusPaused:
		if run.Frontier != nil {
			frontier = RestoreFrontier(*run.Frontier)
		} else {
			frontier = RebuildFrontier(*run, run.Settings.WithDefaults().MaxDepth)
		}
		if run.StartTime == nil {
			now := e.clock.Now()
			run.StartTime = &now
		}
	default:
		return nil, &ConflictError{RunID: run.ID, From: run.Status, Action: ActionStart}
	}
	if err := Transition(run, StatusCrawling); err != nil {
		return nil, err
	}
	run.Frontier = nil
	if err := e.store.SaveRun(ctx, run.Clone()); err != nil {
		return nil, fmt.Errorf("mark run %s crawling: %w", run.ID, err)
	}
	return frontier, nil
}

func (e *Engine) loop(ctx context.Context, ctrl *Control, run *AuditRun, frontier *Frontier) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in crawl loop: %v", r)
		}
	}()

	settings := run.Settings.WithDefaults()
	classifier := NewLinkClassifier(run.BaseURL, settings.IncludeSubdomains)
	for {
		switch ctrl.Requested() {
		case ControlStop:
			return outcomeStopped, nil
		case ControlPause:
			return outcomePaused, nil
		case ControlNone:
		}
		if ctx.Err() != nil {
			return outcomePaused, nil
		}
		if len(run.Pages) >= settings.MaxPages {
			return outcomeBudget, nil
		}
		entry, ok := frontier.Dequeue()
		if !ok {
			return outcomeExhausted, nil
		}
		if frontier.IsVisited(entry.URL) {
			continue
		}
		frontier.MarkVisited(entry.URL)

		page, recorded := e.crawlOne(ctx, run.ID, settings, classifier, frontier, entry)
		if !recorded {
			if ctx.Err() != nil {
				frontier.Requeue(entry)
				return outcomePaused, nil
			}
			continue
		}
		run.Pages = append(run.Pages, page)
		if len(run.Pages)%e.checkpointEvery == 0 {
			if err := e.checkpoint(context.WithoutCancel(ctx), run, frontier); err != nil {
				return outcomeExhausted, err
			}
		}
	}
}

// crawlOne fetches and extracts one entry. It reports false when nothing should
// be recorded: robots disallow or cancellation mid-fetch.
func (e *Engine) crawlOne(
	ctx context.Context,
	runID string,
	settings CrawlSettings,
	classifier *LinkClassifier,
	frontier *Frontier,
	entry FrontierEntry,
) (CrawledPage, bool) {
	logger := e.logger.With(zap.String("run_id", runID), zap.String("url", entry.URL))
	resp, err := e.executor.Fetch(ctx, runID, entry.URL, settings)
	if err != nil {
		if errors.Is(err, ErrRobotsDisallow) {
			logger.Debug("skipping url disallowed by robots.txt")
			return CrawledPage{}, false
		}
		if ctx.Err() != nil {
			return CrawledPage{}, false
		}
		logger.Warn("recording fetch failure", zap.Error(err), zap.Int("status_code", resp.StatusCode))
		metrics.ObservePage(entry.URL, "error", 0)
		return CrawledPage{
			URL:           entry.URL,
			StatusCode:    resp.StatusCode,
			InternalLinks: []Link{},
			ExternalLinks: []Link{},
			ResponseTime:  resp.Duration.Milliseconds(),
			CrawlDepth:    entry.Depth,
			Error:         err.Error(),
		}, true
	}

	page := CrawledPage{
		URL:           entry.URL,
		StatusCode:    resp.StatusCode,
		ContentType:   resp.ContentType,
		InternalLinks: []Link{},
		ExternalLinks: []Link{},
		ResponseTime:  resp.Duration.Milliseconds(),
		ContentLength: resp.ContentLength,
		CrawlDepth:    entry.Depth,
	}
	metrics.ObservePage(entry.URL, "ok", int64(len(resp.Body)))
	if !isHTML(resp.ContentType) {
		return page, true
	}

	base := resp.URL
	if base == "" {
		base = entry.URL
	}
	fields, err := e.extractor.Extract(base, resp.Body, settings.CrawlImages)
	if err != nil {
		logger.Warn("extraction failed", zap.Error(err))
		page.Error = err.Error()
	}
	if fields.SkippedElements > 0 {
		logger.Debug("skipped unresolvable elements", zap.Int("count", fields.SkippedElements))
	}
	page.InternalLinks, page.ExternalLinks = classifier.Classify(fields.Links)
	fields.Links = nil
	page.PageFields = fields

	if entry.Depth < settings.MaxDepth {
		for _, link := range page.InternalLinks {
			frontier.Enqueue(link.URL, entry.Depth+1)
		}
	}
	return page, true
}

// checkpoint persists progress without changing status.
func (e *Engine) checkpoint(ctx context.Context, run *AuditRun, frontier *Frontier) error {
	run.Summary, run.Issues = Aggregate(run.Pages)
	cp := run.Clone()
	snap := frontier.Snapshot()
	cp.Frontier = &snap
	if err := e.store.SaveRun(ctx, cp); err != nil {
		return fmt.Errorf("checkpoint run %s: %w", run.ID, err)
	}
	return nil
}

// suspend persists a paused run together with its frontier.
func (e *Engine) suspend(ctx context.Context, run *AuditRun, frontier *Frontier) error {
	if err := Transition(run, StatusPaused); err != nil {
		return err
	}
	run.Summary, run.Issues = Aggregate(run.Pages)
	snap := frontier.Snapshot()
	run.Frontier = &snap
	if err := e.store.SaveRun(ctx, run.Clone()); err != nil {
		return fmt.Errorf("persist paused run %s: %w", run.ID, err)
	}
	metrics.ObserveRun(string(StatusPaused))
	return nil
}

// Finish moves run to a terminal status, finalizes summary and issues over
// whatever pages exist, persists it, then archives the report and publishes
// the completion event on a best-effort basis.
func (e *Engine) Finish(ctx context.Context, run *AuditRun, status Status, cause error) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish run %s: %s is not terminal", run.ID, status)
	}
	if err := Transition(run, status); err != nil {
		return err
	}
	now := e.clock.Now()
	run.EndTime = &now
	if run.StartTime != nil {
		run.Duration = now.Sub(*run.StartTime).Milliseconds()
	}
	run.Summary, run.Issues = Aggregate(run.Pages)
	run.Frontier = nil
	if cause != nil {
		run.ErrorText = cause.Error()
	}

	logger := e.logger.With(zap.String("run_id", run.ID))
	if e.archiver != nil {
		uri, err := e.archiver.Archive(ctx, *run)
		if err != nil {
			logger.Warn("archive report failed", zap.Error(err))
		} else {
			run.ReportURI = uri
		}
	}

	if err := e.store.SaveRun(ctx, run.Clone()); err != nil {
		return fmt.Errorf("persist finished run %s: %w", run.ID, err)
	}
	metrics.ObserveRun(string(status))
	logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("pages", len(run.Pages)),
		zap.Int64("duration_ms", run.Duration),
	)

	if e.publisher != nil && e.topic != "" {
		event := RunFinishedEvent{
			RunID:     run.ID,
			Name:      run.Name,
			BaseURL:   run.BaseURL,
			Status:    run.Status,
			Summary:   run.Summary,
			Issues:    run.Issues,
			ReportURI: run.ReportURI,
			Timestamp: now.Format(timeLayout),
		}
		if _, err := e.publisher.Publish(ctx, e.topic, event); err != nil {
			logger.Warn("publish run finished event failed", zap.Error(err))
		}
	}
	return nil
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "html")
}
