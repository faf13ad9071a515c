package parse

import (
	"context"
	"fmt"
	"log/slog"

	"feedplatform/internal/addins"
	"feedplatform/internal/fetcher"
	"feedplatform/internal/hooks"
	"feedplatform/internal/model"
	"feedplatform/internal/storage"
)

// run is the state of one ProcessFeed call.
type run struct {
	engine *Engine
	feed   *model.Feed
	log    *slog.Logger
	env    addins.Env

	created, found, skipped int
}

func (r *run) process(ctx context.Context) (Outcome, error) {
	opts := &fetcher.Options{UserAgent: r.engine.userAgent}
	stop, err := r.decide(ctx, hooks.BeforeParse, &addins.BeforeParseArgs{Env: r.env, Feed: r.feed, Options: opts})
	if err != nil {
		return Committed, err
	}
	if stop {
		r.log.Info("feed skipped", "hook", hooks.BeforeParse)
		return Skipped, nil
	}

	res, err := r.engine.fetcher.Fetch(ctx, r.feed.URL, *opts)
	if err != nil {
		return Committed, fmt.Errorf("fetch: %w", err)
	}

	stop, err = r.decide(ctx, hooks.AfterParse, &addins.AfterParseArgs{Env: r.env, Feed: r.feed, Result: res})
	if err != nil {
		return Committed, err
	}
	if stop {
		r.log.Info("feed skipped", "hook", hooks.AfterParse, "status", res.Status)
		return Skipped, nil
	}
	if res.Malformed {
		r.log.Warn("malformed feed", "reason", res.MalformedReason)
	}

	for _, entry := range res.Entries {
		if err := ctx.Err(); err != nil {
			return Committed, err
		}
		if err := r.processEntry(ctx, res, entry); err != nil {
			return Committed, err
		}
	}
	return Committed, nil
}

func (r *run) processEntry(ctx context.Context, res *fetcher.Result, entry *fetcher.Entry) error {
	skip, err := r.decide(ctx, hooks.Item, &addins.ItemArgs{Env: r.env, Feed: r.feed, Result: res, Entry: entry})
	if err != nil {
		return err
	}
	if skip {
		r.skipped++
		r.log.Debug("entry skipped", "hook", hooks.Item)
		return nil
	}

	guid, err := r.resolveGUID(ctx, entry)
	if err != nil {
		return err
	}
	if guid == "" {
		r.skipped++
		return nil
	}

	lookup := &addins.LookupArgs{Env: r.env, Feed: r.feed, Entry: entry, GUID: guid}
	item, err := r.findItem(ctx, lookup)
	if err != nil {
		return err
	}

	created := item == nil
	if created {
		if item, err = r.createItem(ctx, lookup); err != nil {
			return err
		}
	} else {
		r.found++
		if err := r.env.Hooks.TriggerAll(ctx, hooks.FoundItem, &addins.ItemEventArgs{Env: r.env, Feed: r.feed, Item: item, Entry: entry}); err != nil {
			return err
		}
	}

	args := &addins.ProcessItemArgs{Env: r.env, Feed: r.feed, Item: item, Entry: entry, Created: created}
	if err := r.env.Hooks.TriggerAll(ctx, hooks.ProcessItem, args); err != nil {
		return err
	}
	return r.env.Tx.Flush(ctx)
}

// resolveGUID returns the identity of entry: get_guid, then the entry's own
// id, then need_guid. It returns "" after firing no_guid when nothing
// matched.
func (r *run) resolveGUID(ctx context.Context, entry *fetcher.Entry) (string, error) {
	args := &addins.GUIDArgs{Env: r.env, Feed: r.feed, Entry: entry}

	guid, err := trigger[string](ctx, r.env.Hooks, hooks.GetGUID, args)
	if err != nil || guid != "" {
		return guid, err
	}
	if id, ok := entry.NonEmpty(fetcher.FieldID); ok {
		return id, nil
	}
	guid, err = trigger[string](ctx, r.env.Hooks, hooks.NeedGUID, args)
	if err != nil || guid != "" {
		return guid, err
	}

	title, _ := entry.String(fetcher.FieldTitle)
	r.log.Warn("entry has no guid, skipped", "title", title)
	return "", r.env.Hooks.TriggerAll(ctx, hooks.NoGUID, args)
}

// findItem returns the stored item for the entry, or nil.
func (r *run) findItem(ctx context.Context, args *addins.LookupArgs) (*model.Item, error) {
	item, err := trigger[*model.Item](ctx, r.env.Hooks, hooks.GetItem, args)
	if err != nil || item != nil {
		return item, err
	}

	items, err := r.env.Tx.FindItems(ctx, storage.OwnedBy(r.feed.ID, storage.Eq("guid", args.GUID)))
	if err != nil {
		return nil, fmt.Errorf("find item %q: %w", args.GUID, err)
	}
	item, err = storage.One(items)
	if err != nil {
		return nil, fmt.Errorf("find item %q: %w", args.GUID, err)
	}
	if item != nil {
		return item, nil
	}

	return trigger[*model.Item](ctx, r.env.Hooks, hooks.NeedItem, args)
}

func (r *run) createItem(ctx context.Context, args *addins.LookupArgs) (*model.Item, error) {
	item, err := trigger[*model.Item](ctx, r.env.Hooks, hooks.CreateItem, args)
	if err != nil {
		return nil, err
	}
	if item == nil {
		item = model.NewItem(r.feed, args.GUID)
	}
	if item.FeedID == 0 {
		item.FeedID = r.feed.ID
	}
	if item.GUID == "" {
		item.GUID = args.GUID
	}
	r.env.Tx.Add(item)

	// Before the flush, so fields set here are part of the insert.
	event := &addins.ItemEventArgs{Env: r.env, Feed: r.feed, Item: item, Entry: args.Entry}
	if err := r.env.Hooks.TriggerAll(ctx, hooks.NewItem, event); err != nil {
		return nil, err
	}
	if err := r.env.Tx.Flush(ctx); err != nil {
		return nil, err
	}
	r.created++
	r.log.Info("new item", "guid", item.GUID, "item_id", item.ID)
	return item, nil
}

// decide triggers a veto hook; any non-empty result means stop.
func (r *run) decide(ctx context.Context, hook string, args any) (bool, error) {
	res, err := r.env.Hooks.Trigger(ctx, hook, args)
	if err != nil {
		return false, err
	}
	return !hooks.IsEmpty(res), nil
}

func trigger[T any](ctx context.Context, h *hooks.Registry, hook string, args any) (T, error) {
	var zero T
	res, err := h.Trigger(ctx, hook, args)
	if err != nil || res == nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("hook %s: result of type %T, want %T", hook, res, zero)
	}
	return v, nil
}
