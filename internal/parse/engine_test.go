package parse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"feedplatform/internal/addins"
	"feedplatform/internal/fetcher"
	"feedplatform/internal/hooks"
	"feedplatform/internal/model"
	"feedplatform/internal/storage"
)

type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]*fetcher.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ fetcher.Options) (*fetcher.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	if res, ok := f.results[url]; ok {
		return res, nil
	}
	return &fetcher.Result{URL: url, Status: 200}, nil
}

func entry(fields model.Fields) *fetcher.Entry {
	return fetcher.NewEntry(fields)
}

func titleOf(e *fetcher.Entry) string {
	s, _ := e.String(fetcher.FieldTitle)
	return s
}

// recorder implements every capability and records what it saw.
type recorder struct {
	mu     sync.Mutex
	events []string

	skipFeed   bool
	afterParse func(*addins.AfterParseArgs) bool
	skipItem   func(*fetcher.Entry) bool
	getGUID    func(*fetcher.Entry) string
	needGUID   func(*fetcher.Entry) string
	createItem func(*addins.LookupArgs) *model.Item
	onProcess  func(*addins.ProcessItemArgs)
}

func (p *recorder) Name() string { return "recorder" }

func (p *recorder) record(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, fmt.Sprintf(format, args...))
}

func (p *recorder) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *recorder) OnBeforeParse(context.Context, *addins.BeforeParseArgs) (bool, error) {
	return p.skipFeed, nil
}

func (p *recorder) OnAfterParse(_ context.Context, a *addins.AfterParseArgs) (bool, error) {
	if p.afterParse == nil {
		return false, nil
	}
	return p.afterParse(a), nil
}

func (p *recorder) OnItem(_ context.Context, a *addins.ItemArgs) (bool, error) {
	return p.skipItem != nil && p.skipItem(a.Entry), nil
}

func (p *recorder) OnGetGUID(_ context.Context, a *addins.GUIDArgs) (string, error) {
	if p.getGUID == nil {
		return "", nil
	}
	return p.getGUID(a.Entry), nil
}

func (p *recorder) OnNeedGUID(_ context.Context, a *addins.GUIDArgs) (string, error) {
	p.record("need_guid:%s", titleOf(a.Entry))
	if p.needGUID == nil {
		return "", nil
	}
	return p.needGUID(a.Entry), nil
}

func (p *recorder) OnNoGUID(_ context.Context, a *addins.GUIDArgs) error {
	p.record("no_guid:%s", titleOf(a.Entry))
	return nil
}

func (p *recorder) OnCreateItem(_ context.Context, a *addins.LookupArgs) (*model.Item, error) {
	p.record("create_item:%s", a.GUID)
	if p.createItem == nil {
		return nil, nil
	}
	return p.createItem(a), nil
}

func (p *recorder) OnNewItem(_ context.Context, a *addins.ItemEventArgs) error {
	if a.Item.ID != 0 {
		return errors.New("new_item after flush")
	}
	a.Item.Fields.Set("title", titleOf(a.Entry))
	p.record("new_item:%s", a.Item.GUID)
	return nil
}

func (p *recorder) OnFoundItem(_ context.Context, a *addins.ItemEventArgs) error {
	p.record("found_item:%s", a.Item.GUID)
	return nil
}

func (p *recorder) OnProcessItem(_ context.Context, a *addins.ProcessItemArgs) error {
	if a.Item.ID == 0 {
		return errors.New("process_item before flush")
	}
	p.record("process_item:%s:%t", a.Item.GUID, a.Created)
	if p.onProcess != nil {
		p.onProcess(a)
	}
	return nil
}

func newTestEngine(t *testing.T, f Fetcher, exts ...addins.Extension) (*Engine, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	decls := make([]addins.Decl, 0, len(exts))
	for _, ext := range exts {
		decls = append(decls, addins.Use(ext))
	}
	reg := addins.New(hooks.New(), decls...)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, f, reg, log, WithWorkers(3)), store
}

func createFeed(t *testing.T, store storage.Store, url string) *model.Feed {
	t.Helper()
	feed, err := store.CreateFeed(context.Background(), url)
	if err != nil {
		t.Fatalf("create feed: %v", err)
	}
	return feed
}

// storedItems reads the items of a feed in a transaction of its own.
func storedItems(t *testing.T, store storage.Store, feedID int64) []*model.Item {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()
	items, err := tx.FindItems(ctx, storage.OwnedBy(feedID))
	if err != nil {
		t.Fatalf("find items: %v", err)
	}
	return items
}

func guids(items []*model.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.GUID)
	}
	return out
}

func TestProcessFeedCreatesThenFinds(t *testing.T) {
	ctx := context.Background()
	const url = "http://example.org/feed"
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		url: {URL: url, Status: 200, Entries: []*fetcher.Entry{
			entry(model.Fields{fetcher.FieldID: "abc123", fetcher.FieldTitle: "Hello"}),
		}},
	}}
	p := &recorder{}
	e, store := newTestEngine(t, f, p)
	feed := createFeed(t, store, url)

	for round := 1; round <= 2; round++ {
		outcome, err := e.ProcessFeed(ctx, feed)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if outcome != Committed {
			t.Fatalf("round %d: outcome = %v, want committed", round, outcome)
		}
		items := storedItems(t, store, feed.ID)
		if len(items) != 1 {
			t.Fatalf("round %d: %d items, want 1", round, len(items))
		}
		want := model.Fields{"title": "Hello"}
		if diff := cmp.Diff(want, items[0].Fields); diff != "" {
			t.Errorf("round %d: fields mismatch (-want +got):\n%s", round, diff)
		}
	}

	want := []string{
		"create_item:abc123",
		"new_item:abc123",
		"process_item:abc123:true",
		"found_item:abc123",
		"process_item:abc123:false",
	}
	if diff := cmp.Diff(want, p.Events()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestGUIDResolution(t *testing.T) {
	tests := []struct {
		name       string
		entry      model.Fields
		getGUID    func(*fetcher.Entry) string
		needGUID   func(*fetcher.Entry) string
		wantGUIDs  []string
		wantEvents []string
	}{
		{
			name:       "get_guid overrides native id",
			entry:      model.Fields{fetcher.FieldID: "native", fetcher.FieldTitle: "A"},
			getGUID:    func(e *fetcher.Entry) string { return "ext-" + titleOf(e) },
			wantGUIDs:  []string{"ext-A"},
			wantEvents: []string{"create_item:ext-A", "new_item:ext-A", "process_item:ext-A:true"},
		},
		{
			name:       "native id",
			entry:      model.Fields{fetcher.FieldID: "native", fetcher.FieldTitle: "A"},
			needGUID:   func(*fetcher.Entry) string { return "unused" },
			wantGUIDs:  []string{"native"},
			wantEvents: []string{"create_item:native", "new_item:native", "process_item:native:true"},
		},
		{
			name:       "empty native id falls back to need_guid",
			entry:      model.Fields{fetcher.FieldID: "", fetcher.FieldTitle: "A"},
			needGUID:   func(e *fetcher.Entry) string { return "fallback-" + titleOf(e) },
			wantGUIDs:  []string{"fallback-A"},
			wantEvents: []string{"need_guid:A", "create_item:fallback-A", "new_item:fallback-A", "process_item:fallback-A:true"},
		},
		{
			name:       "no guid skips the entry",
			entry:      model.Fields{fetcher.FieldTitle: "A"},
			wantGUIDs:  []string{},
			wantEvents: []string{"need_guid:A", "no_guid:A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const url = "http://example.org/feed"
			f := &fakeFetcher{results: map[string]*fetcher.Result{
				url: {URL: url, Status: 200, Entries: []*fetcher.Entry{entry(tt.entry)}},
			}}
			p := &recorder{getGUID: tt.getGUID, needGUID: tt.needGUID}
			e, store := newTestEngine(t, f, p)
			feed := createFeed(t, store, url)

			if _, err := e.ProcessFeed(context.Background(), feed); err != nil {
				t.Fatalf("process: %v", err)
			}
			if diff := cmp.Diff(tt.wantGUIDs, guids(storedItems(t, store, feed.ID))); diff != "" {
				t.Errorf("guids mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantEvents, p.Events()); diff != "" {
				t.Errorf("events mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAmbiguousItemFailsOnlyThatFeed(t *testing.T) {
	ctx := context.Background()
	const bad, good = "http://example.org/bad", "http://example.org/good"
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		bad: {URL: bad, Status: 200, Entries: []*fetcher.Entry{
			entry(model.Fields{fetcher.FieldID: "fresh"}),
			entry(model.Fields{fetcher.FieldID: "dup"}),
		}},
		good: {URL: good, Status: 200, Entries: []*fetcher.Entry{
			entry(model.Fields{fetcher.FieldID: "ok"}),
		}},
	}}
	e, store := newTestEngine(t, f, &recorder{})
	badFeed := createFeed(t, store, bad)
	goodFeed := createFeed(t, store, good)

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	tx.Add(model.NewItem(badFeed, "dup"))
	tx.Add(model.NewItem(badFeed, "dup"))
	if err := tx.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	sum := e.ProcessAll(ctx, []*model.Feed{badFeed, goodFeed})

	if diff := cmp.Diff(1, sum.Committed); diff != "" {
		t.Errorf("committed mismatch (-want +got):\n%s", diff)
	}
	if len(sum.Failures) != 1 || sum.Failures[0].FeedID != badFeed.ID {
		t.Fatalf("failures = %+v, want feed %d", sum.Failures, badFeed.ID)
	}
	if !errors.Is(sum.Failures[0].Err, storage.ErrAmbiguous) {
		t.Errorf("failure error = %v, want ErrAmbiguous", sum.Failures[0].Err)
	}
	if diff := cmp.Diff([]string{"dup", "dup"}, guids(storedItems(t, store, badFeed.ID))); diff != "" {
		t.Errorf("bad feed items mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ok"}, guids(storedItems(t, store, goodFeed.ID))); diff != "" {
		t.Errorf("good feed items mismatch (-want +got):\n%s", diff)
	}
}

func TestMalformedFeed(t *testing.T) {
	tests := []struct {
		name        string
		veto        bool
		wantOutcome Outcome
		wantItems   []string
	}{
		{name: "entries still processed", wantOutcome: Committed, wantItems: []string{"x1"}},
		{name: "after_parse veto", veto: true, wantOutcome: Skipped, wantItems: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const url = "http://example.org/feed"
			f := &fakeFetcher{results: map[string]*fetcher.Result{
				url: {
					URL:             url,
					Status:          200,
					Malformed:       true,
					MalformedReason: "illegal character",
					Entries:         []*fetcher.Entry{entry(model.Fields{fetcher.FieldID: "x1"})},
				},
			}}
			p := &recorder{afterParse: func(a *addins.AfterParseArgs) bool { return tt.veto && a.Result.Malformed }}
			e, store := newTestEngine(t, f, p)
			feed := createFeed(t, store, url)

			outcome, err := e.ProcessFeed(context.Background(), feed)
			if err != nil {
				t.Fatalf("process: %v", err)
			}
			if diff := cmp.Diff(tt.wantOutcome, outcome); diff != "" {
				t.Errorf("outcome mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantItems, guids(storedItems(t, store, feed.ID))); diff != "" {
				t.Errorf("items mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBeforeParseSkipsFetch(t *testing.T) {
	f := &fakeFetcher{}
	e, store := newTestEngine(t, f, &recorder{skipFeed: true})
	feed := createFeed(t, store, "http://example.org/feed")

	outcome, err := e.ProcessFeed(context.Background(), feed)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != Skipped {
		t.Errorf("outcome = %v, want skipped", outcome)
	}
	if len(f.calls) != 0 {
		t.Errorf("fetched %v, want no fetch", f.calls)
	}
}

func TestFeedChangesCommittedWithoutEntries(t *testing.T) {
	ctx := context.Background()
	const url = "http://example.org/feed"
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		url: {URL: url, Status: 200, Feed: model.Fields{fetcher.FieldTitle: "Example"}},
	}}
	p := &recorder{afterParse: func(a *addins.AfterParseArgs) bool {
		title, _ := a.Result.Feed.String(fetcher.FieldTitle)
		a.Feed.Fields.Set("title", title)
		return false
	}}
	e, store := newTestEngine(t, f, p)
	feed := createFeed(t, store, url)

	if _, err := e.ProcessFeed(ctx, feed); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, err := store.GetFeed(ctx, feed.ID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if diff := cmp.Diff(model.Fields{"title": "Example"}, got.Fields); diff != "" {
		t.Errorf("feed fields mismatch (-want +got):\n%s", diff)
	}
}

func TestItemHookSkipsEntry(t *testing.T) {
	const url = "http://example.org/feed"
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		url: {URL: url, Status: 200, Entries: []*fetcher.Entry{
			entry(model.Fields{fetcher.FieldID: "keep", fetcher.FieldTitle: "keep"}),
			entry(model.Fields{fetcher.FieldID: "drop", fetcher.FieldTitle: "skip me"}),
		}},
	}}
	p := &recorder{skipItem: func(e *fetcher.Entry) bool { return titleOf(e) == "skip me" }}
	e, store := newTestEngine(t, f, p)
	feed := createFeed(t, store, url)

	if _, err := e.ProcessFeed(context.Background(), feed); err != nil {
		t.Fatalf("process: %v", err)
	}
	if diff := cmp.Diff([]string{"keep"}, guids(storedItems(t, store, feed.ID))); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateItemHook(t *testing.T) {
	const url = "http://example.org/feed"
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		url: {URL: url, Status: 200, Entries: []*fetcher.Entry{entry(model.Fields{fetcher.FieldID: "g1"})}},
	}}
	p := &recorder{createItem: func(a *addins.LookupArgs) *model.Item {
		return &model.Item{Fields: model.Fields{"origin": "custom"}}
	}}
	e, store := newTestEngine(t, f, p)
	feed := createFeed(t, store, url)

	if _, err := e.ProcessFeed(context.Background(), feed); err != nil {
		t.Fatalf("process: %v", err)
	}
	items := storedItems(t, store, feed.ID)
	if len(items) != 1 {
		t.Fatalf("%d items, want 1", len(items))
	}
	want := &model.Item{ID: items[0].ID, FeedID: feed.ID, GUID: "g1", Fields: model.Fields{"origin": "custom", "title": ""}}
	if diff := cmp.Diff(want, items[0]); diff != "" {
		t.Errorf("item mismatch (-want +got):\n%s", diff)
	}
}

func TestCancelBetweenEntriesRollsBack(t *testing.T) {
	const url = "http://example.org/feed"
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		url: {URL: url, Status: 200, Entries: []*fetcher.Entry{
			entry(model.Fields{fetcher.FieldID: "first"}),
			entry(model.Fields{fetcher.FieldID: "second"}),
		}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &recorder{onProcess: func(*addins.ProcessItemArgs) { cancel() }}
	e, store := newTestEngine(t, f, p)
	feed := createFeed(t, store, url)

	if _, err := e.ProcessFeed(ctx, feed); !errors.Is(err, context.Canceled) {
		t.Fatalf("ProcessFeed() error = %v, want context.Canceled", err)
	}
	if diff := cmp.Diff([]string{}, guids(storedItems(t, store, feed.ID))); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessAll(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{
		results: map[string]*fetcher.Result{},
		errs:    map[string]error{"http://example.org/down": errors.New("connection refused")},
	}
	e, store := newTestEngine(t, f, &recorder{})

	var feeds []*model.Feed
	for i := range 5 {
		url := fmt.Sprintf("http://example.org/%d", i)
		f.results[url] = &fetcher.Result{URL: url, Status: 200, Entries: []*fetcher.Entry{
			entry(model.Fields{fetcher.FieldID: fmt.Sprintf("item-%d", i)}),
		}}
		feeds = append(feeds, createFeed(t, store, url))
	}
	down := createFeed(t, store, "http://example.org/down")
	feeds = append(feeds, down)

	sum := e.ProcessAll(ctx, feeds)
	if diff := cmp.Diff(6, sum.Feeds); diff != "" {
		t.Errorf("feeds mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(5, sum.Committed); diff != "" {
		t.Errorf("committed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, sum.Failed()); diff != "" {
		t.Errorf("failed mismatch (-want +got):\n%s", diff)
	}
	if sum.Failures[0].FeedID != down.ID {
		t.Errorf("failed feed = %d, want %d", sum.Failures[0].FeedID, down.ID)
	}
	for i, feed := range feeds[:5] {
		want := []string{fmt.Sprintf("item-%d", i)}
		if diff := cmp.Diff(want, guids(storedItems(t, store, feed.ID))); diff != "" {
			t.Errorf("feed %d items mismatch (-want +got):\n%s", feed.ID, diff)
		}
	}
}

// slowFetcher holds every fetch for a while and records how many ran at
// the same time.
type slowFetcher struct {
	delay time.Duration

	mu      sync.Mutex
	running int
	peak    int
}

func (f *slowFetcher) Fetch(ctx context.Context, url string, _ fetcher.Options) (*fetcher.Result, error) {
	f.mu.Lock()
	f.running++
	f.peak = max(f.peak, f.running)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &fetcher.Result{URL: url, Status: 200, Entries: []*fetcher.Entry{
		entry(model.Fields{fetcher.FieldID: url}),
	}}, nil
}

func TestProcessAllFetchesInParallel(t *testing.T) {
	f := &slowFetcher{delay: 100 * time.Millisecond}
	e, store := newTestEngine(t, f, &recorder{})

	var feeds []*model.Feed
	for i := range 3 {
		feeds = append(feeds, createFeed(t, store, fmt.Sprintf("http://example.org/%d", i)))
	}

	sum := e.ProcessAll(context.Background(), feeds)
	if diff := cmp.Diff(Summary{Feeds: 3, Committed: 3}, sum); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if f.peak < 2 {
		t.Errorf("peak concurrent fetches = %d, want at least 2", f.peak)
	}
	for _, feed := range feeds {
		if diff := cmp.Diff([]string{feed.URL}, guids(storedItems(t, store, feed.ID))); diff != "" {
			t.Errorf("feed %d items mismatch (-want +got):\n%s", feed.ID, diff)
		}
	}
}

// itemLookup answers get_item and need_item with stored items chosen by
// guid, recording into a recorder so events interleave with the recorder's own.
type itemLookup struct {
	p    *recorder
	get  map[string]string
	need map[string]string
}

func (l *itemLookup) Name() string { return "item_lookup" }

func (l *itemLookup) OnGetItem(ctx context.Context, a *addins.LookupArgs) (*model.Item, error) {
	l.p.record("get_item:%s", a.GUID)
	return l.stored(ctx, a, l.get[a.GUID])
}

func (l *itemLookup) OnNeedItem(ctx context.Context, a *addins.LookupArgs) (*model.Item, error) {
	l.p.record("need_item:%s", a.GUID)
	return l.stored(ctx, a, l.need[a.GUID])
}

func (l *itemLookup) stored(ctx context.Context, a *addins.LookupArgs, guid string) (*model.Item, error) {
	if guid == "" {
		return nil, nil
	}
	items, err := a.Tx.FindItems(ctx, storage.OwnedBy(a.Feed.ID, storage.Eq("guid", guid)))
	if err != nil {
		return nil, err
	}
	return storage.One(items)
}

func TestItemLookupOrder(t *testing.T) {
	tests := []struct {
		name       string
		stored     []string
		guid       string
		get        map[string]string
		need       map[string]string
		wantEvents []string
		wantItems  []string
	}{
		{
			name:   "get_item pre-empts the store",
			stored: []string{"x", "g1"},
			guid:   "g1",
			get:    map[string]string{"g1": "x"},
			need:   map[string]string{"g1": "g1"},
			wantEvents: []string{
				"get_item:g1", "found_item:x", "process_item:x:false",
			},
			wantItems: []string{"x", "g1"},
		},
		{
			name:   "store match skips need_item",
			stored: []string{"x"},
			guid:   "x",
			need:   map[string]string{"x": "x"},
			wantEvents: []string{
				"get_item:x", "found_item:x", "process_item:x:false",
			},
			wantItems: []string{"x"},
		},
		{
			name:   "need_item after a store miss",
			stored: []string{"x"},
			guid:   "g2",
			need:   map[string]string{"g2": "x"},
			wantEvents: []string{
				"get_item:g2", "need_item:g2", "found_item:x", "process_item:x:false",
			},
			wantItems: []string{"x"},
		},
		{
			name:   "no match creates the item",
			stored: []string{"x"},
			guid:   "fresh",
			wantEvents: []string{
				"get_item:fresh", "need_item:fresh",
				"create_item:fresh", "new_item:fresh", "process_item:fresh:true",
			},
			wantItems: []string{"x", "fresh"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			const url = "http://example.org/feed"
			f := &fakeFetcher{results: map[string]*fetcher.Result{
				url: {URL: url, Status: 200, Entries: []*fetcher.Entry{
					entry(model.Fields{fetcher.FieldID: tt.guid, fetcher.FieldTitle: "T"}),
				}},
			}}
			p := &recorder{}
			e, store := newTestEngine(t, f, &itemLookup{p: p, get: tt.get, need: tt.need}, p)
			feed := createFeed(t, store, url)

			tx, err := store.Begin(ctx)
			if err != nil {
				t.Fatalf("begin: %v", err)
			}
			for _, guid := range tt.stored {
				tx.Add(model.NewItem(feed, guid))
			}
			if err := tx.Flush(ctx); err != nil {
				t.Fatalf("flush: %v", err)
			}
			if err := tx.Commit(); err != nil {
				t.Fatalf("commit: %v", err)
			}

			if _, err := e.ProcessFeed(ctx, feed); err != nil {
				t.Fatalf("process: %v", err)
			}
			if diff := cmp.Diff(tt.wantEvents, p.Events()); diff != "" {
				t.Errorf("events mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantItems, guids(storedItems(t, store, feed.ID))); diff != "" {
				t.Errorf("items mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
