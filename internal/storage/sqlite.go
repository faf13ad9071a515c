package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"feedplatform/internal/model"
	"feedplatform/migrations"
)

// SQLite implements Store backed by a SQLite database. Extension fields are
// kept in a JSON column per record.
type SQLite struct {
	db     *sql.DB
	schema model.Schema
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite has a single writer, and :memory: databases
	// are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// SetSchema restricts query conditions on extension fields to the declared
// ones. Without a schema any well-formed field name is accepted.
func (s *SQLite) SetSchema(schema model.Schema) {
	s.schema = schema
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Begin starts a unit of work. The database transaction, and with it the
// connection, is only taken by the first read or write, so a caller may
// hold a Tx across network I/O without blocking other callers. ctx bounds
// the database transaction.
func (s *SQLite) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqliteTx{db: s.db, ctx: ctx, schema: s.schema, index: make(map[recordKey]*tracked)}, nil
}

// ListFeeds returns every feed ordered by ID.
func (s *SQLite) ListFeeds(ctx context.Context) ([]*model.Feed, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "url", "fields").From("feeds").OrderBy("id")
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []*model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// GetFeed returns a single feed by its ID.
func (s *SQLite) GetFeed(ctx context.Context, id int64) (*model.Feed, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "url", "fields").From("feeds").Where(sb.Equal("id", id))
	query, args := sb.Build()

	f, err := scanFeed(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	return f, err
}

// CreateFeed inserts a feed for url.
func (s *SQLite) CreateFeed(ctx context.Context, url string) (*model.Feed, error) {
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("feeds").Cols("url", "fields", "created_at").Values(url, "{}", now())
	query, args := ib.Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert feed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &model.Feed{ID: id, URL: url}, nil
}

const timeLayout = "2006-01-02T15:04:05Z"

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

type recordKey struct {
	kind model.Kind
	id   int64
}

type tracked struct {
	rec     model.Record
	state   string
	removed bool
}

type sqliteTx struct {
	db       *sql.DB
	ctx      context.Context
	tx       *sql.Tx
	done     bool
	schema   model.Schema
	records  []*tracked
	index    map[recordKey]*tracked
	onCommit []func()
}

// conn returns the database transaction, starting it on first use.
func (t *sqliteTx) conn() (*sql.Tx, error) {
	if t.done {
		return nil, sql.ErrTxDone
	}
	if t.tx == nil {
		tx, err := t.db.BeginTx(t.ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin tx: %w", err)
		}
		t.tx = tx
	}
	return t.tx, nil
}

func (t *sqliteTx) FindFeeds(ctx context.Context, q Query) ([]*model.Feed, error) {
	sb, err := t.selectFor(model.KindFeed, q)
	if err != nil {
		return nil, err
	}
	var out []*model.Feed
	err = t.query(ctx, sb, func(row scannable) error {
		f, err := scanFeed(row)
		if err != nil {
			return err
		}
		out = append(out, t.attach(f).(*model.Feed))
		return nil
	})
	return out, err
}

func (t *sqliteTx) FindItems(ctx context.Context, q Query) ([]*model.Item, error) {
	sb, err := t.selectFor(model.KindItem, q)
	if err != nil {
		return nil, err
	}
	var out []*model.Item
	err = t.query(ctx, sb, func(row scannable) error {
		it, err := scanItem(row)
		if err != nil {
			return err
		}
		out = append(out, t.attach(it).(*model.Item))
		return nil
	})
	return out, err
}

func (t *sqliteTx) FindEnclosures(ctx context.Context, q Query) ([]*model.Enclosure, error) {
	sb, err := t.selectFor(model.KindEnclosure, q)
	if err != nil {
		return nil, err
	}
	var out []*model.Enclosure
	err = t.query(ctx, sb, func(row scannable) error {
		e, err := scanEnclosure(row)
		if err != nil {
			return err
		}
		out = append(out, t.attach(e).(*model.Enclosure))
		return nil
	})
	return out, err
}

func (t *sqliteTx) Add(rec model.Record) {
	if rec.RecordID() != 0 {
		if tr, ok := t.index[recordKey{rec.Kind(), rec.RecordID()}]; ok {
			tr.removed = false
			return
		}
		t.track(rec, stateOf(rec))
		return
	}
	for _, tr := range t.records {
		if tr.rec == rec {
			tr.removed = false
			return
		}
	}
	t.records = append(t.records, &tracked{rec: rec})
}

func (t *sqliteTx) Remove(rec model.Record) {
	for _, tr := range t.records {
		if tr.rec == rec {
			tr.removed = true
			return
		}
	}
	if rec.RecordID() != 0 {
		t.track(rec, stateOf(rec)).removed = true
	}
}

// Flush writes deletions first, then inserts in owner order (feeds, items,
// enclosures), then updates of changed records.
func (t *sqliteTx) Flush(ctx context.Context) error {
	kept := t.records[:0]
	for _, tr := range t.records {
		if !tr.removed {
			kept = append(kept, tr)
			continue
		}
		if id := tr.rec.RecordID(); id != 0 {
			if err := t.delete(ctx, tr.rec); err != nil {
				return err
			}
			delete(t.index, recordKey{tr.rec.Kind(), id})
		}
	}
	t.records = kept

	for _, kind := range []model.Kind{model.KindFeed, model.KindItem, model.KindEnclosure} {
		for _, tr := range t.records {
			if tr.rec.Kind() != kind || tr.rec.RecordID() != 0 {
				continue
			}
			if err := t.insert(ctx, tr.rec); err != nil {
				return err
			}
			tr.state = stateOf(tr.rec)
			t.index[recordKey{kind, tr.rec.RecordID()}] = tr
		}
	}

	for _, tr := range t.records {
		state := stateOf(tr.rec)
		if state == tr.state {
			continue
		}
		if err := t.update(ctx, tr.rec); err != nil {
			return err
		}
		tr.state = state
	}
	return nil
}

func (t *sqliteTx) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

// Commit commits the database transaction, if one was started, and then
// runs the OnCommit functions in order.
func (t *sqliteTx) Commit() error {
	if t.done {
		return fmt.Errorf("commit: %w", sql.ErrTxDone)
	}
	t.done = true
	if t.tx != nil {
		if err := t.tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	for _, fn := range t.onCommit {
		fn()
	}
	t.onCommit = nil
	return nil
}

func (t *sqliteTx) Rollback() error {
	t.done = true
	t.onCommit = nil
	if t.tx == nil {
		return nil
	}
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// attach returns the tracked instance for rec, tracking rec if it is new to
// this transaction, so every lookup of a row yields the same pointer.
func (t *sqliteTx) attach(rec model.Record) model.Record {
	if tr, ok := t.index[recordKey{rec.Kind(), rec.RecordID()}]; ok {
		return tr.rec
	}
	return t.track(rec, stateOf(rec)).rec
}

func (t *sqliteTx) track(rec model.Record, state string) *tracked {
	tr := &tracked{rec: rec, state: state}
	t.records = append(t.records, tr)
	t.index[recordKey{rec.Kind(), rec.RecordID()}] = tr
	return tr
}

var coreColumns = map[model.Kind]struct {
	table   string
	owner   string
	columns []string
}{
	model.KindFeed:      {table: "feeds", columns: []string{"id", "url", "fields"}},
	model.KindItem:      {table: "items", owner: "feed_id", columns: []string{"id", "feed_id", "guid", "fields"}},
	model.KindEnclosure: {table: "enclosures", owner: "item_id", columns: []string{"id", "item_id", "href", "fields"}},
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (t *sqliteTx) selectFor(kind model.Kind, q Query) (*sqlbuilder.SelectBuilder, error) {
	def := coreColumns[kind]
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(def.columns...).From(def.table)
	if q.Owner != 0 {
		if def.owner == "" {
			return nil, fmt.Errorf("query %s: records of this kind have no owner", kind)
		}
		sb.Where(sb.Equal(def.owner, q.Owner))
	}
	for _, c := range q.Where {
		col, err := t.column(kind, c.Field)
		if err != nil {
			return nil, err
		}
		sb.Where(sb.Equal(col, queryValue(c.Value)))
	}
	sb.OrderBy("id")
	return sb, nil
}

func (t *sqliteTx) column(kind model.Kind, field string) (string, error) {
	for _, c := range coreColumns[kind].columns {
		if c == field && c != "fields" {
			return c, nil
		}
	}
	if !fieldName.MatchString(field) {
		return "", fmt.Errorf("query %s: invalid field name %q", kind, field)
	}
	if t.schema != nil && !t.schema.Has(kind, field) {
		return "", fmt.Errorf("query %s: unknown field %q", kind, field)
	}
	return fmt.Sprintf("json_extract(fields, '$.%s')", field), nil
}

// queryValue converts v to the form json_extract returns for it.
func queryValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case bool:
		if t {
			return 1
		}
		return 0
	}
	return v
}

func (t *sqliteTx) query(ctx context.Context, sb *sqlbuilder.SelectBuilder, scan func(scannable) error) error {
	tx, err := t.conn()
	if err != nil {
		return err
	}
	query, args := sb.Build()
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (t *sqliteTx) insert(ctx context.Context, rec model.Record) error {
	fields, err := encodeFields(fieldsOf(rec))
	if err != nil {
		return err
	}
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	switch r := rec.(type) {
	case *model.Feed:
		ib.InsertInto("feeds").Cols("url", "fields", "created_at").Values(r.URL, fields, now())
	case *model.Item:
		if r.FeedID == 0 {
			return fmt.Errorf("insert item %q: no owning feed", r.GUID)
		}
		ib.InsertInto("items").Cols("feed_id", "guid", "fields", "created_at").Values(r.FeedID, r.GUID, fields, now())
	case *model.Enclosure:
		if r.ItemID == 0 {
			return fmt.Errorf("insert enclosure %q: no owning item", r.Href)
		}
		ib.InsertInto("enclosures").Cols("item_id", "href", "fields", "created_at").Values(r.ItemID, r.Href, fields, now())
	default:
		return fmt.Errorf("insert: unsupported record %T", rec)
	}
	tx, err := t.conn()
	if err != nil {
		return err
	}
	query, args := ib.Build()
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.Kind(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	switch r := rec.(type) {
	case *model.Feed:
		r.ID = id
	case *model.Item:
		r.ID = id
	case *model.Enclosure:
		r.ID = id
	}
	return nil
}

func (t *sqliteTx) update(ctx context.Context, rec model.Record) error {
	fields, err := encodeFields(fieldsOf(rec))
	if err != nil {
		return err
	}
	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	switch r := rec.(type) {
	case *model.Feed:
		ub.Update("feeds").Set(ub.Assign("url", r.URL), ub.Assign("fields", fields))
	case *model.Item:
		ub.Update("items").Set(ub.Assign("feed_id", r.FeedID), ub.Assign("guid", r.GUID), ub.Assign("fields", fields))
	case *model.Enclosure:
		ub.Update("enclosures").Set(ub.Assign("item_id", r.ItemID), ub.Assign("href", r.Href), ub.Assign("fields", fields))
	default:
		return fmt.Errorf("update: unsupported record %T", rec)
	}
	ub.Where(ub.Equal("id", rec.RecordID()))
	tx, err := t.conn()
	if err != nil {
		return err
	}
	query, args := ub.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s %d: %w", rec.Kind(), rec.RecordID(), err)
	}
	return nil
}

// delete removes rec and everything it owns.
func (t *sqliteTx) delete(ctx context.Context, rec model.Record) error {
	var stmts []string
	switch rec.(type) {
	case *model.Feed:
		stmts = []string{
			`DELETE FROM enclosures WHERE item_id IN (SELECT id FROM items WHERE feed_id = ?)`,
			`DELETE FROM items WHERE feed_id = ?`,
			`DELETE FROM feeds WHERE id = ?`,
		}
	case *model.Item:
		stmts = []string{
			`DELETE FROM enclosures WHERE item_id = ?`,
			`DELETE FROM items WHERE id = ?`,
		}
	case *model.Enclosure:
		stmts = []string{`DELETE FROM enclosures WHERE id = ?`}
	default:
		return fmt.Errorf("delete: unsupported record %T", rec)
	}
	tx, err := t.conn()
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, rec.RecordID()); err != nil {
			return fmt.Errorf("delete %s %d: %w", rec.Kind(), rec.RecordID(), err)
		}
	}
	return nil
}

func fieldsOf(rec model.Record) model.Fields {
	switch r := rec.(type) {
	case *model.Feed:
		return r.Fields
	case *model.Item:
		return r.Fields
	case *model.Enclosure:
		return r.Fields
	}
	return nil
}

func encodeFields(f model.Fields) (string, error) {
	if len(f) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(raw), nil
}

func decodeFields(raw string) (model.Fields, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var f model.Fields
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return f, nil
}

// stateOf renders rec for change detection.
func stateOf(rec model.Record) string {
	raw, err := json.Marshal(rec)
	if err != nil {
		// Unencodable fields fail later in Flush; force a write attempt.
		return ""
	}
	return string(raw)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*model.Feed, error) {
	var f model.Feed
	var fields string
	if err := row.Scan(&f.ID, &f.URL, &fields); err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	var err error
	if f.Fields, err = decodeFields(fields); err != nil {
		return nil, err
	}
	return &f, nil
}

func scanItem(row scannable) (*model.Item, error) {
	var it model.Item
	var fields string
	if err := row.Scan(&it.ID, &it.FeedID, &it.GUID, &fields); err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	var err error
	if it.Fields, err = decodeFields(fields); err != nil {
		return nil, err
	}
	return &it, nil
}

func scanEnclosure(row scannable) (*model.Enclosure, error) {
	var e model.Enclosure
	var fields string
	if err := row.Scan(&e.ID, &e.ItemID, &e.Href, &fields); err != nil {
		return nil, fmt.Errorf("scan enclosure: %w", err)
	}
	var err error
	if e.Fields, err = decodeFields(fields); err != nil {
		return nil, err
	}
	return &e, nil
}
