package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"feedplatform/internal/lib"
	"feedplatform/internal/model"
	"feedplatform/internal/scheduler"
)

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Process every feed at the configured interval",
		Description: `Process all feeds now and then every CHECK_INTERVAL minutes
		until interrupted. When METRICS_ADDR is set, Prometheus metrics are
		served on /metrics.`,
		Action: func(c *cli.Context) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			sched := scheduler.New(a.store, a.engine, a.log)
			sched.SetTickInterval(a.cfg.CheckInterval)

			g, ctx := errgroup.WithContext(ctx)
			if a.cfg.MetricsAddr != "" {
				srv := &http.Server{
					Addr:              a.cfg.MetricsAddr,
					Handler:           metricsMux(),
					ReadHeaderTimeout: 5 * time.Second,
				}
				g.Go(func() error {
					a.log.Info("serving metrics", "addr", a.cfg.MetricsAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("metrics server: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}
			g.Go(func() error {
				a.log.Info("scheduler started", "interval", a.cfg.CheckInterval)
				sched.Run(ctx)
				a.log.Info("scheduler stopped")
				return nil
			})
			return g.Wait()
		},
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func updateCmd() *cli.Command {
	return &cli.Command{
		Name:  "update",
		Usage: "Process feeds once",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:    "feed",
				Aliases: []string{"f"},
				Usage:   "only process the feed with this id",
			},
		},
		Action: func(c *cli.Context) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			ctx := c.Context

			if !c.IsSet("feed") {
				sum, err := scheduler.New(a.store, a.engine, a.log).RunOnce(ctx)
				if err != nil {
					return fmt.Errorf("update feeds: %w", err)
				}
				if n := sum.Failed(); n > 0 {
					return fmt.Errorf("%d of %d feeds failed", n, sum.Feeds)
				}
				return nil
			}

			feed, err := a.store.GetFeed(ctx, c.Int64("feed"))
			if err != nil {
				return fmt.Errorf("get feed: %w", err)
			}
			outcome, err := a.engine.ProcessFeed(ctx, feed)
			if err != nil {
				return fmt.Errorf("process feed %d: %w", feed.ID, err)
			}
			fmt.Fprintf(c.App.Writer, "feed %d: %s\n", feed.ID, outcome)
			return nil
		},
	}
}

func addCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Add a feed by URL",
		ArgsUsage: "<url>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("add takes exactly one URL", 2)
			}
			a, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			feed, err := a.store.CreateFeed(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("add feed: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "added feed %d: %s\n", feed.ID, feed.URL)
			return nil
		},
	}
}

func fieldsCmd() *cli.Command {
	return &cli.Command{
		Name:  "fields",
		Usage: "List the record fields declared by the configured addins",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "available",
				Usage: "list the addin names the addins file may use instead",
			},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("available") {
				for _, name := range lib.Names(lib.Catalog(lib.Deps{})) {
					fmt.Fprintln(c.App.Writer, name)
				}
				return nil
			}

			a, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			schema, err := a.addins.Schema()
			if err != nil {
				return err
			}
			printSchema(c.App.Writer, schema)
			return nil
		},
	}
}

func printSchema(w io.Writer, schema model.Schema) {
	for _, kind := range []model.Kind{model.KindFeed, model.KindItem, model.KindEnclosure} {
		names := make([]string, 0, len(schema[kind]))
		for name := range schema[kind] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "%s.%s\t%s\n", kind, name, schema[kind][name])
		}
	}
}
