package fetcher

import (
	"net/http"

	"feedplatform/internal/model"
)

// Entry and feed field names.
const (
	FieldID         = "id"
	FieldTitle      = "title"
	FieldSubtitle   = "subtitle"
	FieldSummary    = "summary"
	FieldContent    = "content"
	FieldLink       = "link"
	FieldLanguage   = "language"
	FieldPublished  = "published"
	FieldUpdated    = "updated"
	FieldAuthor     = "author"
	FieldCategories = "categories"
	FieldImage      = "image"
)

// Options configures a single fetch.
type Options struct {
	UserAgent string
	// Header holds extra request headers, e.g. conditional GET tokens.
	Header http.Header
}

// Result is a fetched and parsed feed.
type Result struct {
	// URL is the address the document was finally served from.
	URL string
	// Status is the HTTP status. A chain of permanent redirects is reported
	// as 301 with URL set to the target.
	Status int
	Header http.Header
	// NotModified is set when the server answered a conditional request
	// with 304. Feed and Entries are empty.
	NotModified bool

	Feed    model.Fields
	Entries []*Entry

	// Malformed is set when the document was not well-formed. Entries may
	// still hold whatever could be recovered.
	Malformed       bool
	MalformedReason string
}

// Entry is one parsed feed entry. Every field may be absent.
type Entry struct {
	model.Fields
	Enclosures []Enclosure
}

// Enclosure is a media attachment of an entry.
type Enclosure struct {
	Href   string
	Type   string
	Length int64
}

// NewEntry returns an entry holding fields.
func NewEntry(fields model.Fields, enclosures ...Enclosure) *Entry {
	return &Entry{Fields: fields, Enclosures: enclosures}
}
