// Package guid provides need_guid fallbacks for feeds whose entries carry
// no id of their own.
//
// No fallback is perfect; several can be combined, in which case the first
// one producing a guid wins. A common order is content hash of title and
// date, then title and link, then title alone.
package guid

import (
	"context"
	"crypto/md5" //nolint:gosec // identity hash, not security
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"

	"feedplatform/internal/addins"
	"feedplatform/internal/fetcher"
)

// ByContent hashes selected entry fields. If any of them changes the entry
// is considered new.
type ByContent struct {
	Fields     []string `yaml:"fields"`
	AllowEmpty bool     `yaml:"allow_empty"`
	Prefix     string   `yaml:"prefix"`
}

// NewByContent returns a ByContent hashing title and summary.
func NewByContent() *ByContent {
	return &ByContent{
		Fields: []string{fetcher.FieldTitle, fetcher.FieldSummary},
		Prefix: "content:",
	}
}

func (b *ByContent) Name() string { return "guid_by_content" }

func (b *ByContent) OnNeedGUID(_ context.Context, args *addins.GUIDArgs) (string, error) {
	var content []byte
	for _, f := range b.Fields {
		if v, ok := args.Entry.Get(f); ok {
			content = append(content, norm.NFC.String(valueString(v))...)
		}
	}
	if len(content) == 0 && !b.AllowEmpty {
		return "", nil
	}
	sum := md5.Sum(content) //nolint:gosec // identity hash, not security
	return b.Prefix + hex.EncodeToString(sum[:]), nil
}

func valueString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}

// ByEnclosure uses the href of the first enclosure, which identifies
// podcast episodes well.
type ByEnclosure struct {
	Prefix string `yaml:"prefix"`
}

// NewByEnclosure returns a ByEnclosure with the "enclosure:" prefix.
func NewByEnclosure() *ByEnclosure {
	return &ByEnclosure{Prefix: "enclosure:"}
}

func (b *ByEnclosure) Name() string { return "guid_by_enclosure" }

func (b *ByEnclosure) OnNeedGUID(_ context.Context, args *addins.GUIDArgs) (string, error) {
	if len(args.Entry.Enclosures) == 0 || args.Entry.Enclosures[0].Href == "" {
		return "", nil
	}
	return b.Prefix + args.Entry.Enclosures[0].Href, nil
}

// ByLink uses the entry link.
type ByLink struct {
	Prefix string `yaml:"prefix"`
}

// NewByLink returns a ByLink with the "link:" prefix.
func NewByLink() *ByLink {
	return &ByLink{Prefix: "link:"}
}

func (b *ByLink) Name() string { return "guid_by_link" }

func (b *ByLink) OnNeedGUID(_ context.Context, args *addins.GUIDArgs) (string, error) {
	link, ok := args.Entry.NonEmpty(fetcher.FieldLink)
	if !ok {
		return "", nil
	}
	return b.Prefix + link, nil
}

// ByDate uses the publication date, falling back to the update date.
type ByDate struct {
	Prefix string `yaml:"prefix"`
}

// NewByDate returns a ByDate with the "date:" prefix.
func NewByDate() *ByDate {
	return &ByDate{Prefix: "date:"}
}

func (b *ByDate) Name() string { return "guid_by_date" }

func (b *ByDate) OnNeedGUID(_ context.Context, args *addins.GUIDArgs) (string, error) {
	for _, f := range []string{fetcher.FieldPublished, fetcher.FieldUpdated} {
		if t, ok := args.Entry.Time(f); ok {
			return b.Prefix + t.UTC().Format(time.RFC3339), nil
		}
	}
	return "", nil
}
