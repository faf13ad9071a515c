// Package httpaddin reacts to HTTP level details of a fetch: permanent
// redirects and conditional requests.
package httpaddin

import (
	"context"
	"fmt"
	"net/http"

	"feedplatform/internal/addins"
	"feedplatform/internal/model"
	"feedplatform/internal/storage"
)

// Strategy decides what UpdateRedirects does when the redirect target is
// already subscribed.
type Strategy string

// Redirect conflict strategies.
const (
	// DeleteSelf removes the redirected feed and stops processing it.
	DeleteSelf Strategy = "delete-self"
	// DeleteOther removes the feeds already using the target URL.
	DeleteOther Strategy = "delete-other"
	// Ignore keeps the old URL.
	Ignore Strategy = "ignore"
	// Force changes the URL anyway, leaving duplicates.
	Force Strategy = "force"
)

// UpdateRedirects moves feeds to the target of a permanent redirect.
type UpdateRedirects struct {
	strategy Strategy
}

// NewUpdateRedirects returns an UpdateRedirects using strategy on
// conflicts.
func NewUpdateRedirects(strategy Strategy) (*UpdateRedirects, error) {
	switch strategy {
	case DeleteSelf, DeleteOther, Ignore, Force:
		return &UpdateRedirects{strategy: strategy}, nil
	case "":
		return nil, fmt.Errorf("update_redirects: a strategy is required")
	}
	return nil, fmt.Errorf("update_redirects: unknown strategy %q", strategy)
}

func (u *UpdateRedirects) Name() string { return "update_redirects" }

func (u *UpdateRedirects) OnAfterParse(ctx context.Context, args *addins.AfterParseArgs) (bool, error) {
	res := args.Result
	if res.Status != http.StatusMovedPermanently || res.URL == "" || res.URL == args.Feed.URL {
		return false, nil
	}
	log := args.Logger(u).With("feed_id", args.Feed.ID, "url", res.URL)
	log.Info("permanent redirect")

	found, err := args.Tx.FindFeeds(ctx, storage.Where(storage.Eq("url", res.URL)))
	if err != nil {
		return false, fmt.Errorf("find feeds: %w", err)
	}
	var dups []*model.Feed
	for _, f := range found {
		if f.ID != args.Feed.ID {
			dups = append(dups, f)
		}
	}
	if len(dups) == 0 {
		args.Feed.URL = res.URL
		return false, nil
	}

	switch u.strategy {
	case DeleteSelf:
		log.Info("redirect target already exists, removing self")
		args.Tx.Remove(args.Feed)
		return true, nil
	case DeleteOther:
		log.Info("redirect target already exists, removing the other feeds", "count", len(dups))
		for _, f := range dups {
			args.Tx.Remove(f)
		}
		args.Feed.URL = res.URL
	case Ignore:
		log.Warn("redirect target already exists, keeping the old url")
	case Force:
		log.Warn("redirect target already exists, changing url anyway")
		args.Feed.URL = res.URL
	}
	return false, nil
}

// Fields used by SaveBandwidth.
const (
	FieldETag     = "http_etag"
	FieldModified = "http_modified"
)

// SaveBandwidth sends conditional requests using the validators of the
// previous response, and stops processing when the feed did not change.
type SaveBandwidth struct{}

// NewSaveBandwidth returns a SaveBandwidth.
func NewSaveBandwidth() *SaveBandwidth { return &SaveBandwidth{} }

func (s *SaveBandwidth) Name() string { return "save_bandwidth" }

func (s *SaveBandwidth) Fields() model.Schema {
	return model.Schema{model.KindFeed: {
		FieldETag:     model.TypeString,
		FieldModified: model.TypeString,
	}}
}

func (s *SaveBandwidth) OnBeforeParse(_ context.Context, args *addins.BeforeParseArgs) (bool, error) {
	etag, hasETag := args.Feed.Fields.NonEmpty(FieldETag)
	modified, hasModified := args.Feed.Fields.NonEmpty(FieldModified)
	if !hasETag && !hasModified {
		return false, nil
	}
	if args.Options.Header == nil {
		args.Options.Header = make(http.Header)
	}
	if hasETag {
		args.Options.Header.Set("If-None-Match", etag)
	}
	if hasModified {
		args.Options.Header.Set("If-Modified-Since", modified)
	}
	return false, nil
}

func (s *SaveBandwidth) OnAfterParse(_ context.Context, args *addins.AfterParseArgs) (bool, error) {
	if args.Result.NotModified {
		args.Logger(s).Debug("feed not modified", "feed_id", args.Feed.ID)
		return true, nil
	}
	store := func(field, header string) {
		if v := args.Result.Header.Get(header); v != "" {
			args.Feed.Fields.Set(field, v)
		} else {
			args.Feed.Fields.Delete(field)
		}
	}
	store(FieldETag, "ETag")
	store(FieldModified, "Last-Modified")
	return false, nil
}
