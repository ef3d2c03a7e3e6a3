// Package audit is the collaborator-facing surface of the crawler: it creates
// runs, hands them to the worker pool, relays pause/resume/stop to running
// loops and serves read models over stored runs.
package audit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
)

// DefaultSignalWait bounds how long a control call waits for a running loop
// to reach its next checkpoint.
const DefaultSignalWait = 10 * time.Second

// Enqueuer hands runs to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Engine is the part of crawler.Engine the service drives directly.
type Engine interface {
	Controls() *crawler.Controls
	Finish(ctx context.Context, run *crawler.AuditRun, status crawler.Status, cause error) error
}

// Config wires a Service. Locker is optional; without it orphaned runs are
// transitioned without cross-process exclusion.
type Config struct {
	Store      crawler.RunStore
	Engine     Engine
	Queue      Enqueuer
	Locker     crawler.Locker
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
	Defaults   crawler.CrawlSettings
	SignalWait time.Duration
	Logger     *zap.Logger
}

// Service implements the audit operations.
type Service struct {
	store      crawler.RunStore
	engine     Engine
	queue      Enqueuer
	locker     crawler.Locker
	ids        crawler.IDGenerator
	clock      crawler.Clock
	defaults   crawler.CrawlSettings
	signalWait time.Duration
	logger     *zap.Logger
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("audit service requires a run store")
	case cfg.Engine == nil:
		return nil, errors.New("audit service requires an engine")
	case cfg.Queue == nil:
		return nil, errors.New("audit service requires a queue")
	case cfg.IDs == nil:
		return nil, errors.New("audit service requires an id generator")
	case cfg.Clock == nil:
		return nil, errors.New("audit service requires a clock")
	}
	if cfg.SignalWait <= 0 {
		cfg.SignalWait = DefaultSignalWait
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		store:      cfg.Store,
		engine:     cfg.Engine,
		queue:      cfg.Queue,
		locker:     cfg.Locker,
		ids:        cfg.IDs,
		clock:      cfg.Clock,
		defaults:   cfg.Defaults.WithDefaults(),
		signalWait: cfg.SignalWait,
		logger:     cfg.Logger,
	}, nil
}

// CreateRequest is the payload that starts a run.
type CreateRequest struct {
	Name     string        `json:"name"`
	BaseURL  string        `json:"baseUrl"`
	ClientID string        `json:"clientId"`
	Settings SettingsInput `json:"crawlSettings"`
}

// SettingsInput carries optional overrides. Zero numbers and empty strings
// fall back to defaults; nil booleans take the configured default.
type SettingsInput struct {
	MaxPages          int    `json:"maxPages"`
	MaxDepth          int    `json:"maxDepth"`
	RespectRobotsTxt  *bool  `json:"respectRobotsTxt"`
	IncludeSubdomains *bool  `json:"includeSubdomains"`
	FollowRedirects   *bool  `json:"followRedirects"`
	CrawlImages       *bool  `json:"crawlImages"`
	UserAgent         string `json:"userAgent"`
	Delay             int    `json:"delay"`
	Timeout           int    `json:"timeout"`
}

// Resolve merges the input over defaults.
func (in SettingsInput) Resolve(defaults crawler.CrawlSettings) crawler.CrawlSettings {
	s := defaults
	if in.MaxPages > 0 {
		s.MaxPages = in.MaxPages
	}
	if in.MaxDepth > 0 {
		s.MaxDepth = in.MaxDepth
	}
	if in.UserAgent != "" {
		s.UserAgent = in.UserAgent
	}
	if in.Delay > 0 {
		s.Delay = in.Delay
	}
	if in.Timeout > 0 {
		s.Timeout = in.Timeout
	}
	if in.RespectRobotsTxt != nil {
		s.RespectRobotsTxt = *in.RespectRobotsTxt
	}
	if in.IncludeSubdomains != nil {
		s.IncludeSubdomains = *in.IncludeSubdomains
	}
	if in.FollowRedirects != nil {
		s.FollowRedirects = *in.FollowRedirects
	}
	if in.CrawlImages != nil {
		s.CrawlImages = *in.CrawlImages
	}
	return s.WithDefaults()
}

func validate(req CreateRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return &crawler.ValidationError{Field: "name", Message: "is required"}
	}
	raw := strings.TrimSpace(req.BaseURL)
	if raw == "" {
		return &crawler.ValidationError{Field: "baseUrl", Message: "is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &crawler.ValidationError{Field: "baseUrl", Message: "must be an absolute http(s) URL"}
	}
	return nil
}

// Start creates a pending run and queues it for a worker.
func (s *Service) Start(ctx context.Context, req CreateRequest) (crawler.AuditRun, error) {
	if err := validate(req); err != nil {
		return crawler.AuditRun{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.AuditRun{}, fmt.Errorf("allocate run id: %w", err)
	}
	now := s.clock.Now()
	run := crawler.AuditRun{
		ID:        id,
		Name:      strings.TrimSpace(req.Name),
		BaseURL:   strings.TrimSpace(req.BaseURL),
		ClientID:  req.ClientID,
		Settings:  req.Settings.Resolve(s.defaults),
		Status:    crawler.StatusPending,
		CreatedAt: now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return crawler.AuditRun{}, fmt.Errorf("create run: %w", err)
	}

	if err := s.queue.Enqueue(ctx, crawler.QueueItem{RunID: id, Submitted: now.UnixMilli()}); err != nil {
		enqueueErr := fmt.Errorf("enqueue run %s: %w", id, err)
		if finishErr := s.engine.Finish(context.WithoutCancel(ctx), &run, crawler.StatusFailed, enqueueErr); finishErr != nil {
			s.logger.Error("mark unqueued run failed", zap.String("run_id", id), zap.Error(finishErr))
		}
		return run, enqueueErr
	}
	s.logger.Info("run created", zap.String("run_id", id), zap.String("base_url", run.BaseURL))
	return run, nil
}

// Get returns a run with its pages.
func (s *Service) Get(ctx context.Context, runID string) (crawler.AuditRun, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return crawler.AuditRun{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// Pause asks a crawling run to suspend. A running loop is signalled and given
// until its next checkpoint; a crawling run with no live loop is paused in the
// store directly, keeping its last checkpointed frontier.
func (s *Service) Pause(ctx context.Context, runID string) (crawler.AuditRun, error) {
	return s.control(ctx, runID, crawler.ActionPause, crawler.ControlPause, func(ctx context.Context, run *crawler.AuditRun) error {
		if err := crawler.Transition(run, crawler.StatusPaused); err != nil {
			return err
		}
		run.Summary, run.Issues = crawler.Aggregate(run.Pages)
		if err := s.store.SaveRun(ctx, *run); err != nil {
			return fmt.Errorf("pause run %s: %w", run.ID, err)
		}
		return nil
	})
}

// Stop completes a crawling or paused run immediately, discarding the frontier.
func (s *Service) Stop(ctx context.Context, runID string) (crawler.AuditRun, error) {
	return s.control(ctx, runID, crawler.ActionStop, crawler.ControlStop, func(ctx context.Context, run *crawler.AuditRun) error {
		return s.engine.Finish(ctx, run, crawler.StatusCompleted, nil)
	})
}

// control validates action, then either signals the live loop or applies
// orphan to the stored run under the run lock.
func (s *Service) control(
	ctx context.Context,
	runID string,
	action string,
	request crawler.ControlRequest,
	orphan func(context.Context, *crawler.AuditRun) error,
) (crawler.AuditRun, error) {
	run, err := s.Get(ctx, runID)
	if err != nil {
		return crawler.AuditRun{}, err
	}
	if err := crawler.CheckAction(run, action); err != nil {
		return run, err
	}

	logger := s.logger.With(zap.String("run_id", runID), zap.String("action", action))
	if ctrl, ok := s.engine.Controls().Signal(runID, request); ok {
		logger.Info("signalled running loop")
		s.await(ctx, ctrl)
		return s.Get(ctx, runID)
	}

	unlock, err := s.lock(ctx, run)
	if err != nil {
		return run, err
	}
	defer unlock()

	// Re-read under the lock: the owner may have moved the run meanwhile.
	run, err = s.Get(ctx, runID)
	if err != nil {
		return crawler.AuditRun{}, err
	}
	if err := crawler.CheckAction(run, action); err != nil {
		return run, err
	}
	if run.Status == crawler.StatusCrawling && s.engine.Controls().Active(runID) {
		return run, &crawler.ConflictError{RunID: runID, From: run.Status, Action: action}
	}
	if err := orphan(context.WithoutCancel(ctx), &run); err != nil {
		return run, err
	}
	logger.Info("applied control to stored run", zap.String("status", string(run.Status)))
	return run, nil
}

// lock takes the run lock for a direct store transition. A lock held
// elsewhere means another worker owns the run, which this process cannot
// signal.
func (s *Service) lock(ctx context.Context, run crawler.AuditRun) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	unlock, ok, err := s.locker.TryLock(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("lock run %s: %w", run.ID, err)
	}
	if !ok {
		return nil, &crawler.ConflictError{RunID: run.ID, From: run.Status, Action: "control remotely owned"}
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("run unlock failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}, nil
}

func (s *Service) await(ctx context.Context, ctrl *crawler.Control) {
	timer := time.NewTimer(s.signalWait)
	defer timer.Stop()
	select {
	case <-ctrl.Done():
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Resume queues a paused run. The engine moves it to crawling when a worker
// picks it up.
func (s *Service) Resume(ctx context.Context, runID string) (crawler.AuditRun, error) {
	run, err := s.Get(ctx, runID)
	if err != nil {
		return crawler.AuditRun{}, err
	}
	if err := crawler.CheckAction(run, crawler.ActionResume); err != nil {
		return run, err
	}
	item := crawler.QueueItem{RunID: runID, Resume: true, Submitted: s.clock.Now().UnixMilli()}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		return run, fmt.Errorf("enqueue resume %s: %w", runID, err)
	}
	s.logger.Info("run resume queued", zap.String("run_id", runID))
	return run, nil
}

// Delete removes a run, stopping its loop first when one is live.
func (s *Service) Delete(ctx context.Context, runID string) error {
	if ctrl, ok := s.engine.Controls().Signal(runID, crawler.ControlStop); ok {
		s.await(ctx, ctrl)
	}
	if err := s.store.DeleteRun(ctx, runID); err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	s.logger.Info("run deleted", zap.String("run_id", runID))
	return nil
}

// Pagination describes one page of a listing.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

func paginate(total, page, limit int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Total: total, Page: page, Limit: limit, Pages: pages}
}

// RunList is a page of runs without their page lists.
type RunList struct {
	Data       []crawler.AuditRun `json:"data"`
	Pagination Pagination         `json:"pagination"`
}

// List returns runs matching q.
func (s *Service) List(ctx context.Context, q crawler.ListQuery) (RunList, error) {
	q = q.WithDefaults()
	if q.Status != "" && !q.Status.Valid() {
		return RunList{}, &crawler.ValidationError{Field: "status", Message: "is not a known status"}
	}
	runs, total, err := s.store.ListRuns(ctx, q)
	if err != nil {
		return RunList{}, fmt.Errorf("list runs: %w", err)
	}
	return RunList{Data: runs, Pagination: paginate(total, q.Page, q.Limit)}, nil
}

// RunSummary is the summary read model, recomputed from stored pages so it
// reflects in-progress runs up to their last checkpoint.
type RunSummary struct {
	RunID   string          `json:"runId"`
	Status  crawler.Status  `json:"status"`
	Summary crawler.Summary `json:"summary"`
	Issues  crawler.Issues  `json:"issues"`
}

// Summary aggregates a run's pages.
func (s *Service) Summary(ctx context.Context, runID string) (RunSummary, error) {
	run, err := s.Get(ctx, runID)
	if err != nil {
		return RunSummary{}, err
	}
	summary, issues := crawler.Aggregate(run.Pages)
	return RunSummary{RunID: run.ID, Status: run.Status, Summary: summary, Issues: issues}, nil
}

// Recover requeues work lost by a restart: pending runs are queued again and
// crawling runs with no live owner are paused at their last checkpoint and
// queued for resume. Both sets are listed before anything is queued, so runs
// started by workers during recovery are left alone. It returns how many
// runs were queued.
func (s *Service) Recover(ctx context.Context) (int, error) {
	var batches [][]crawler.AuditRun
	for _, status := range []crawler.Status{crawler.StatusPending, crawler.StatusCrawling} {
		runs, err := s.allRuns(ctx, crawler.ListQuery{Status: status, SortBy: crawler.SortByCreatedAt, SortOrder: "asc"})
		if err != nil {
			return 0, err
		}
		batches = append(batches, runs)
	}

	queued := 0
	for _, runs := range batches {
		for _, run := range runs {
			if s.engine.Controls().Active(run.ID) {
				continue
			}
			item := crawler.QueueItem{RunID: run.ID, Submitted: s.clock.Now().UnixMilli()}
			if run.Status == crawler.StatusCrawling {
				if _, err := s.Pause(ctx, run.ID); err != nil {
					s.logger.Warn("recover crawling run skipped", zap.String("run_id", run.ID), zap.Error(err))
					continue
				}
				item.Resume = true
			}
			if err := s.queue.Enqueue(ctx, item); err != nil {
				return queued, fmt.Errorf("requeue run %s: %w", run.ID, err)
			}
			queued++
		}
	}
	if queued > 0 {
		s.logger.Info("recovered runs", zap.Int("queued", queued))
	}
	return queued, nil
}

// allRuns walks every listing page for q.
func (s *Service) allRuns(ctx context.Context, q crawler.ListQuery) ([]crawler.AuditRun, error) {
	q.Limit = crawler.MaxListLimit
	q = q.WithDefaults()
	var out []crawler.AuditRun
	for {
		runs, total, err := s.store.ListRuns(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, runs...)
		if len(runs) == 0 || q.Page*q.Limit >= total {
			return out, nil
		}
		q.Page++
	}
}
