// Package model defines the records the aggregator persists.
package model

// Kind names a record type.
type Kind string

// Record kinds known to the core.
const (
	KindFeed      Kind = "feed"
	KindItem      Kind = "item"
	KindEnclosure Kind = "enclosure"
)

// Record is implemented by every persisted entity.
type Record interface {
	Kind() Kind
	RecordID() int64
}

// Feed is a subscribed syndication feed.
type Feed struct {
	ID     int64
	URL    string
	Fields Fields
}

// Kind implements Record.
func (f *Feed) Kind() Kind { return KindFeed }

// RecordID implements Record.
func (f *Feed) RecordID() int64 { return f.ID }

// Item is a single entry of a feed, identified within it by GUID.
type Item struct {
	ID     int64
	FeedID int64
	GUID   string
	Fields Fields
}

// NewItem returns an unsaved item bound to feed.
func NewItem(feed *Feed, guid string) *Item {
	return &Item{FeedID: feed.ID, GUID: guid}
}

// Kind implements Record.
func (i *Item) Kind() Kind { return KindItem }

// RecordID implements Record.
func (i *Item) RecordID() int64 { return i.ID }

// Enclosure is a media attachment of an item, identified within it by Href.
type Enclosure struct {
	ID     int64
	ItemID int64
	Href   string
	Fields Fields
}

// NewEnclosure returns an unsaved enclosure bound to item.
func NewEnclosure(item *Item, href string) *Enclosure {
	return &Enclosure{ItemID: item.ID, Href: href}
}

// Kind implements Record.
func (e *Enclosure) Kind() Kind { return KindEnclosure }

// RecordID implements Record.
func (e *Enclosure) RecordID() int64 { return e.ID }
