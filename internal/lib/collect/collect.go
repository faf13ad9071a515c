// Package collect copies feed and entry metadata into the stored records,
// so it is available without fetching the feed again.
package collect

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"feedplatform/internal/addins"
	"feedplatform/internal/fetcher"
	"feedplatform/internal/model"
)

// Now is the special source field holding the moment of processing.
const Now = "__now"

// Options selects what a collector stores.
type Options struct {
	// Fields lists standard fields stored under their own name.
	Fields []string `yaml:"fields"`
	// Rename stores standard fields under a different name.
	Rename map[string]string `yaml:"rename"`
	// Custom reads arbitrary fields of the parsed data, such as unknown
	// elements (issn) or namespaced ones (media_rating). The declared type
	// decides how the value is read.
	Custom map[string]model.FieldType `yaml:"custom"`
	// KeepEmpty stores "" for missing text fields instead of removing them.
	KeepEmpty bool `yaml:"keep_empty"`
}

var feedFields = map[string]model.FieldType{
	Now:                    model.TypeTime,
	fetcher.FieldTitle:     model.TypeString,
	fetcher.FieldSubtitle:  model.TypeText,
	fetcher.FieldLink:      model.TypeString,
	fetcher.FieldLanguage:  model.TypeString,
	fetcher.FieldAuthor:    model.TypeString,
	fetcher.FieldImage:     model.TypeString,
	fetcher.FieldUpdated:   model.TypeTime,
	fetcher.FieldPublished: model.TypeTime,
}

var itemFields = map[string]model.FieldType{
	Now:                    model.TypeTime,
	fetcher.FieldTitle:     model.TypeString,
	fetcher.FieldSummary:   model.TypeText,
	fetcher.FieldContent:   model.TypeText,
	fetcher.FieldLink:      model.TypeString,
	fetcher.FieldAuthor:    model.TypeString,
	fetcher.FieldUpdated:   model.TypeTime,
	fetcher.FieldPublished: model.TypeTime,
}

type field struct {
	source, target string
	typ            model.FieldType
}

type collector struct {
	kind      model.Kind
	fields    []field
	keepEmpty bool
	now       func() time.Time
}

func newCollector(kind model.Kind, standard map[string]model.FieldType, opts Options) (*collector, error) {
	c := &collector{kind: kind, keepEmpty: opts.KeepEmpty, now: time.Now}
	targets := make(map[string]string)
	add := func(f field) error {
		if prev, ok := targets[f.target]; ok {
			return fmt.Errorf("field %q stored from both %q and %q", f.target, prev, f.source)
		}
		targets[f.target] = f.source
		c.fields = append(c.fields, f)
		return nil
	}

	for _, name := range opts.Fields {
		typ, ok := standard[name]
		if !ok {
			return nil, fmt.Errorf("unknown standard field %q", name)
		}
		if _, renamed := opts.Rename[name]; renamed {
			continue
		}
		if err := add(field{source: name, target: name, typ: typ}); err != nil {
			return nil, err
		}
	}
	for name, target := range opts.Rename {
		typ, ok := standard[name]
		if !ok {
			return nil, fmt.Errorf("unknown standard field %q", name)
		}
		if target == "" || strings.HasPrefix(target, "__") {
			return nil, fmt.Errorf("invalid target %q for field %q", target, name)
		}
		if err := add(field{source: name, target: target, typ: typ}); err != nil {
			return nil, err
		}
	}
	for name, typ := range opts.Custom {
		switch typ {
		case model.TypeString, model.TypeText, model.TypeTime, model.TypeInt, model.TypeBool:
		default:
			return nil, fmt.Errorf("custom field %q: unknown type %q", name, typ)
		}
		if err := add(field{source: name, target: name, typ: typ}); err != nil {
			return nil, err
		}
	}
	for _, f := range c.fields {
		if f.target == Now {
			return nil, fmt.Errorf("field %s needs a rename target", Now)
		}
	}

	slices.SortFunc(c.fields, func(a, b field) int { return strings.Compare(a.target, b.target) })
	return c, nil
}

func (c *collector) schema() model.Schema {
	s := model.Schema{}
	for _, f := range c.fields {
		// Targets are unique, so Add cannot fail.
		_ = s.Add(c.kind, f.target, f.typ)
	}
	return s
}

// apply copies the configured fields from src into dst. Missing values
// clear the stored ones.
func (c *collector) apply(dst *model.Fields, src model.Fields) {
	for _, f := range c.fields {
		if f.source == Now {
			dst.Set(f.target, c.now().UTC())
			continue
		}
		if v, ok := read(src, f.source, f.typ); ok {
			dst.Set(f.target, v)
			continue
		}
		if c.keepEmpty && (f.typ == model.TypeString || f.typ == model.TypeText) {
			dst.Set(f.target, "")
			continue
		}
		dst.Delete(f.target)
	}
}

func read(src model.Fields, name string, typ model.FieldType) (any, bool) {
	switch typ {
	case model.TypeTime:
		t, ok := src.Time(name)
		return t.UTC(), ok
	case model.TypeInt:
		return src.Int(name)
	case model.TypeBool:
		return src.Bool(name)
	}
	return src.String(name)
}

// FeedData stores feed-level data whenever the feed is parsed.
type FeedData struct {
	c *collector
}

// NewFeedData returns a FeedData. Standard fields are title, subtitle,
// link, language, author, image, updated, published and __now.
func NewFeedData(opts Options) (*FeedData, error) {
	c, err := newCollector(model.KindFeed, feedFields, opts)
	if err != nil {
		return nil, fmt.Errorf("collect_feed_data: %w", err)
	}
	return &FeedData{c: c}, nil
}

func (d *FeedData) Name() string { return "collect_feed_data" }

func (d *FeedData) Fields() model.Schema { return d.c.schema() }

func (d *FeedData) OnAfterParse(_ context.Context, args *addins.AfterParseArgs) (bool, error) {
	if args.Result.NotModified {
		return false, nil
	}
	d.c.apply(&args.Feed.Fields, args.Result.Feed)
	return false, nil
}

// ItemData stores entry data on new and existing items.
type ItemData struct {
	c *collector
}

// NewItemData returns an ItemData. Standard fields are title, summary,
// content, link, author, updated, published and __now.
func NewItemData(opts Options) (*ItemData, error) {
	c, err := newCollector(model.KindItem, itemFields, opts)
	if err != nil {
		return nil, fmt.Errorf("collect_item_data: %w", err)
	}
	return &ItemData{c: c}, nil
}

func (d *ItemData) Name() string { return "collect_item_data" }

func (d *ItemData) Fields() model.Schema { return d.c.schema() }

func (d *ItemData) OnNewItem(_ context.Context, args *addins.ItemEventArgs) error {
	d.c.apply(&args.Item.Fields, args.Entry.Fields)
	return nil
}

func (d *ItemData) OnFoundItem(_ context.Context, args *addins.ItemEventArgs) error {
	d.c.apply(&args.Item.Fields, args.Entry.Fields)
	return nil
}
