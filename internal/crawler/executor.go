package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit-crawler/internal/metrics"
)

// DefaultPolitenessDelay is the minimum pause before every attempt. A run's
// own delay applies when it is longer.
const DefaultPolitenessDelay = 200 * time.Millisecond

// ExecutorConfig wires a FetchExecutor.
type ExecutorConfig struct {
	Fetcher         Fetcher
	Robots          RobotsPolicy
	Throttle        Throttle
	Retry           RetryPolicy
	Sleeper         Sleeper
	PolitenessDelay time.Duration
	Logger          *zap.Logger
}

// FetchExecutor retrieves one URL with politeness, throttling and retries.
type FetchExecutor struct {
	fetcher    Fetcher
	robots     RobotsPolicy
	throttle   Throttle
	retry      RetryPolicy
	sleeper    Sleeper
	politeness time.Duration
	logger     *zap.Logger
}

// NewFetchExecutor validates cfg and applies defaults.
func NewFetchExecutor(cfg ExecutorConfig) (*FetchExecutor, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("fetch executor requires a fetcher")
	}
	if cfg.Retry == nil {
		cfg.Retry = NewExponentialRetryPolicy(DefaultMaxAttempts, DefaultBackoffBase, DefaultBackoffMax)
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = TimerSleeper{}
	}
	if cfg.PolitenessDelay <= 0 {
		cfg.PolitenessDelay = DefaultPolitenessDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &FetchExecutor{
		fetcher:    cfg.Fetcher,
		robots:     cfg.Robots,
		throttle:   cfg.Throttle,
		retry:      cfg.Retry,
		sleeper:    cfg.Sleeper,
		politeness: cfg.PolitenessDelay,
		logger:     cfg.Logger,
	}, nil
}

// Fetch returns the first successful response for url. A disallowed URL yields
// ErrRobotsDisallow without any request. When every attempt fails the error
// is a *FetchError carrying the last status code seen; the returned response
// then holds that code and the last attempt's duration.
func (e *FetchExecutor) Fetch(ctx context.Context, runID, url string, settings CrawlSettings) (FetchResponse, error) {
	if settings.RespectRobotsTxt && e.robots != nil && !e.robots.Allowed(ctx, url, settings.UserAgent) {
		metrics.ObserveRobotsDisallowed(url)
		return FetchResponse{}, fmt.Errorf("fetch %s: %w", url, ErrRobotsDisallow)
	}

	delay := max(settings.DelayDuration(), e.politeness)
	req := FetchRequest{
		RunID:           runID,
		URL:             url,
		UserAgent:       settings.UserAgent,
		Timeout:         settings.TimeoutDuration(),
		FollowRedirects: settings.FollowRedirects,
	}

	var (
		lastErr    error
		lastStatus int
		lastDur    time.Duration
		attempts   int
	)
	for attempt := 0; attempt < e.retry.MaxAttempts(); attempt++ {
		if err := e.sleeper.Sleep(ctx, delay); err != nil {
			return FetchResponse{}, err
		}
		if e.throttle != nil {
			if err := e.throttle.Wait(ctx, url); err != nil {
				return FetchResponse{}, err
			}
		}

		attempts++
		resp, err := e.fetcher.Fetch(ctx, req)
		lastDur = resp.Duration
		if resp.StatusCode > 0 {
			lastStatus = resp.StatusCode
		}
		if err == nil && resp.StatusCode >= 400 {
			err = &StatusError{StatusCode: resp.StatusCode}
		}
		if err == nil {
			metrics.ObserveFetchAttempt(url, "success", resp.Duration)
			return resp, nil
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			metrics.ObserveFetchAttempt(url, "status_error", resp.Duration)
		} else {
			metrics.ObserveFetchAttempt(url, "error", resp.Duration)
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return FetchResponse{}, ctxErr
		}
		if !e.retry.ShouldRetry(err, attempts) {
			break
		}
		backoff := e.retry.Backoff(attempt)
		e.logger.Debug("retrying fetch",
			zap.String("run_id", runID),
			zap.String("url", url),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := e.sleeper.Sleep(ctx, backoff); err != nil {
			return FetchResponse{}, err
		}
	}

	return FetchResponse{URL: url, StatusCode: lastStatus, Duration: lastDur}, &FetchError{
		URL:        url,
		StatusCode: lastStatus,
		Attempts:   attempts,
		Err:        lastErr,
	}
}

// TimerSleeper sleeps on a real timer.
type TimerSleeper struct{}

// Sleep blocks for d or until ctx is done.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
