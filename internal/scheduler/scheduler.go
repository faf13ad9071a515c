// Package scheduler runs batches of feeds at a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"feedplatform/internal/model"
	"feedplatform/internal/parse"
)

// FeedLister lists the feeds to process.
type FeedLister interface {
	ListFeeds(ctx context.Context) ([]*model.Feed, error)
}

// Processor processes a batch of feeds.
type Processor interface {
	ProcessAll(ctx context.Context, feeds []*model.Feed) parse.Summary
}

// Scheduler periodically processes every feed.
type Scheduler struct {
	feeds  FeedLister
	engine Processor
	log    *slog.Logger
	tick   time.Duration
}

// New creates a Scheduler running every 15 minutes.
func New(feeds FeedLister, engine Processor, log *slog.Logger) *Scheduler {
	return &Scheduler{
		feeds:  feeds,
		engine: engine,
		log:    log,
		tick:   15 * time.Minute,
	}
}

// SetTickInterval overrides the default interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run processes a batch immediately and then once per interval, blocking
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.runBatch(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runBatch(ctx)
		}
	}
}

func (s *Scheduler) runBatch(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error("run batch", "error", err)
	}
}

// RunOnce processes every feed once.
func (s *Scheduler) RunOnce(ctx context.Context) (parse.Summary, error) {
	log := s.log.With("run_id", uuid.NewString())
	start := time.Now()

	feeds, err := s.feeds.ListFeeds(ctx)
	if err != nil {
		return parse.Summary{}, err
	}
	log.Debug("batch started", "feeds", len(feeds))

	sum := s.engine.ProcessAll(ctx, feeds)
	for _, f := range sum.Failures {
		log.Warn("feed failed", "feed_id", f.FeedID, "url", f.URL, "error", f.Err)
	}
	log.Info("batch finished",
		"feeds", sum.Feeds, "committed", sum.Committed, "skipped", sum.Skipped,
		"failed", sum.Failed(), "duration", time.Since(start).Round(time.Millisecond))
	return sum, nil
}
