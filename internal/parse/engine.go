// Package parse reconciles fetched feeds with the record store, giving the
// installed extensions a say at every step.
package parse

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"feedplatform/internal/addins"
	"feedplatform/internal/fetcher"
	"feedplatform/internal/model"
	"feedplatform/internal/storage"
)

// Fetcher downloads and parses a feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts fetcher.Options) (*fetcher.Result, error)
}

// Outcome describes how a successful feed run ended.
type Outcome int

// Outcomes of ProcessFeed.
const (
	// Committed means the entries were walked and the changes committed.
	Committed Outcome = iota
	// Skipped means before_parse or after_parse stopped the run. Changes
	// made by the extensions up to that point are still committed.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Failure is a feed whose run was rolled back.
type Failure struct {
	FeedID int64
	URL    string
	Err    error
}

// Summary reports a batch run.
type Summary struct {
	Feeds     int
	Committed int
	Skipped   int
	Failures  []Failure
}

// Failed returns the number of failed feeds.
func (s Summary) Failed() int {
	return len(s.Failures)
}

// Engine runs feeds through fetch, extension hooks and the store.
type Engine struct {
	store     storage.Store
	fetcher   Fetcher
	addins    *addins.Registry
	log       *slog.Logger
	userAgent string
	workers   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithUserAgent sets the User-Agent sent with every fetch.
func WithUserAgent(ua string) Option {
	return func(e *Engine) { e.userAgent = ua }
}

// WithWorkers sets how many feeds ProcessAll handles at once.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = max(n, 1) }
}

// New creates an Engine.
func New(store storage.Store, f Fetcher, reg *addins.Registry, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		fetcher:   f,
		addins:    reg,
		log:       log,
		userAgent: "feedplatform",
		workers:   1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessFeed runs one feed in a single transaction. On error nothing is
// committed. The store is first touched after the fetch unless a
// before_parse extension reads it, so feeds of one batch fetch in parallel.
func (e *Engine) ProcessFeed(ctx context.Context, feed *model.Feed) (Outcome, error) {
	if _, err := e.addins.Active(); err != nil {
		return Committed, fmt.Errorf("install addins: %w", err)
	}

	log := e.log.With("feed_id", feed.ID, "url", feed.URL)
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return Committed, err
	}
	tx.Add(feed)

	r := &run{
		engine: e,
		feed:   feed,
		log:    log,
		env:    addins.Env{Tx: tx, Log: log, Hooks: e.addins.Hooks()},
	}
	outcome, err := r.process(ctx)
	if err == nil {
		err = tx.Flush(ctx)
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("rollback", "error", rbErr)
		}
		return outcome, err
	}

	log.Debug("feed processed", "outcome", outcome, "new", r.created, "found", r.found, "skipped", r.skipped)
	return outcome, nil
}

// ProcessAll processes every feed, WithWorkers at a time. A failing feed
// never stops the others.
func (e *Engine) ProcessAll(ctx context.Context, feeds []*model.Feed) Summary {
	var (
		mu  sync.Mutex
		sum = Summary{Feeds: len(feeds)}
		g   errgroup.Group
	)
	g.SetLimit(e.workers)
	for _, feed := range feeds {
		g.Go(func() error {
			outcome, err := e.ProcessFeed(ctx, feed)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				e.log.Error("process feed", "feed_id", feed.ID, "url", feed.URL, "error", err)
				sum.Failures = append(sum.Failures, Failure{FeedID: feed.ID, URL: feed.URL, Err: err})
			case outcome == Skipped:
				sum.Skipped++
			default:
				sum.Committed++
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(sum.Failures, func(a, b Failure) int { return cmp.Compare(a.FeedID, b.FeedID) })
	e.log.Info("feeds processed",
		"feeds", sum.Feeds, "committed", sum.Committed, "skipped", sum.Skipped, "failed", sum.Failed())
	return sum
}
