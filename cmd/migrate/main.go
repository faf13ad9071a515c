// Command migrate manages the schema of the feedplatform record database
// outside of the normal startup path, which only migrates up.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"feedplatform/migrations"
)

type command struct {
	usage string
	run   func(ctx context.Context, p *goose.Provider, out io.Writer) error
}

var commands = map[string]command{
	"up": {"apply all pending migrations", func(ctx context.Context, p *goose.Provider, out io.Writer) error {
		res, err := p.Up(ctx)
		printResults(out, res...)
		return err
	}},
	"up-one": {"apply the next migration", func(ctx context.Context, p *goose.Provider, out io.Writer) error {
		res, err := p.UpByOne(ctx)
		printResults(out, res)
		return err
	}},
	"down": {"roll back the last migration", func(ctx context.Context, p *goose.Provider, out io.Writer) error {
		res, err := p.Down(ctx)
		printResults(out, res)
		return err
	}},
	"reset": {"roll back every migration, dropping all records", func(ctx context.Context, p *goose.Provider, out io.Writer) error {
		res, err := p.DownTo(ctx, 0)
		printResults(out, res...)
		return err
	}},
	"status": {"print the state of every migration", func(ctx context.Context, p *goose.Provider, out io.Writer) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "-"
			if !s.AppliedAt.IsZero() {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(out, "%-8s %-20s %s\n", s.State, applied, s.Source.Path)
		}
		return nil
	}},
	"version": {"print the schema version", func(ctx context.Context, p *goose.Provider, out io.Writer) error {
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "version %d\n", v)
		return nil
	}},
}

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/feedplatform.db"), "path to the record database")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	name := flag.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		log.Fatalf("unknown command %q", name)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	p, err := migrations.NewProvider(db)
	if err != nil {
		log.Fatal(err)
	}
	if err := cmd.run(context.Background(), p, os.Stdout); err != nil {
		log.Fatalf("%s: %v", name, err)
	}
}

func printResults(out io.Writer, results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil {
			continue
		}
		fmt.Fprintf(out, "%-4s %s (%s)\n", r.Direction, r.Source.Path, r.Duration.Round(time.Millisecond))
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "Usage: migrate [-db path] <command>")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-8s %s\n", name, commands[name].usage)
	}
	fmt.Fprintln(out)
	flag.PrintDefaults()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
