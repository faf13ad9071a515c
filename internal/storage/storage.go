// Package storage defines the record store the reconciliation engine works
// against, and its SQLite implementation.
package storage

import (
	"context"
	"errors"

	"feedplatform/internal/model"
)

// Sentinel errors returned by stores.
var (
	ErrAmbiguous = errors.New("ambiguous result: more than one record matched")
	ErrNotFound  = errors.New("record not found")
)

// Store opens transactions and manages the feed list.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	ListFeeds(ctx context.Context) ([]*model.Feed, error)
	GetFeed(ctx context.Context, id int64) (*model.Feed, error)
	CreateFeed(ctx context.Context, url string) (*model.Feed, error)

	Close() error
}

// Tx is a unit of work. Records returned by the Find methods, and records
// passed to Add, are tracked: Flush writes any change made to them. Nothing
// is visible outside the transaction until Commit.
type Tx interface {
	FindFeeds(ctx context.Context, q Query) ([]*model.Feed, error)
	FindItems(ctx context.Context, q Query) ([]*model.Item, error)
	FindEnclosures(ctx context.Context, q Query) ([]*model.Enclosure, error)

	// Add tracks rec. Records without an ID are inserted by the next Flush.
	Add(rec model.Record)
	// Remove deletes rec, and the records it owns, on the next Flush.
	Remove(rec model.Record)

	Flush(ctx context.Context) error
	// OnCommit registers fn to run after a successful Commit. Rollback
	// discards it. Side effects outside the store, such as sending a
	// message, belong here so they happen only for committed work.
	OnCommit(fn func())
	Commit() error
	Rollback() error
}

// Cond is an equality condition on a core column or an extension field.
type Cond struct {
	Field string
	Value any
}

// Eq returns a condition matching records whose field equals v.
func Eq(field string, v any) Cond {
	return Cond{Field: field, Value: v}
}

// Query selects records. Owner restricts items to a feed and enclosures to
// an item; zero means any owner.
type Query struct {
	Owner int64
	Where []Cond
}

// Where returns a query with the given conditions.
func Where(conds ...Cond) Query {
	return Query{Where: conds}
}

// OwnedBy returns a query restricted to records owned by id.
func OwnedBy(id int64, conds ...Cond) Query {
	return Query{Owner: id, Where: conds}
}

// One returns the single record in recs, the zero value when recs is empty,
// or ErrAmbiguous when it holds more than one.
func One[T any](recs []T) (T, error) {
	var zero T
	switch len(recs) {
	case 0:
		return zero, nil
	case 1:
		return recs[0], nil
	}
	return zero, ErrAmbiguous
}
