// Package enclosures stores the media attachments of items.
//
// Multiple enclosures per entry are supported: RSS is vague about it and
// Atom allows it. An enclosure is identified within its item by href;
// enclosures without one are ignored.
package enclosures

import (
	"context"
	"errors"
	"fmt"

	"feedplatform/internal/addins"
	"feedplatform/internal/fetcher"
	"feedplatform/internal/hooks"
	"feedplatform/internal/model"
	"feedplatform/internal/storage"
)

// Hooks introduced by Store.
const (
	// CreateEnclosure may return a *model.Enclosure to use instead of the
	// default one.
	CreateEnclosure = "create_enclosure"
	// NewEnclosure runs before a new enclosure is written.
	NewEnclosure     = "new_enclosure"
	FoundEnclosure   = "found_enclosure"
	ProcessEnclosure = "process_enclosure"
)

// Args is passed to the enclosure hooks. Enclosure is nil for
// create_enclosure.
type Args struct {
	addins.Env
	Feed      *model.Feed
	Item      *model.Item
	Entry     *fetcher.Entry
	Data      fetcher.Enclosure
	Enclosure *model.Enclosure
	Created   bool
}

// Store keeps the enclosures of every processed item in sync with the
// feed.
type Store struct{}

// NewStore returns a Store.
func NewStore() *Store { return &Store{} }

func (s *Store) Name() string { return "store_enclosures" }

func (s *Store) ProvideHooks() []string {
	return []string{CreateEnclosure, NewEnclosure, FoundEnclosure, ProcessEnclosure}
}

func (s *Store) OnProcessItem(ctx context.Context, args *addins.ProcessItemArgs) error {
	log := args.Logger(s).With("item_id", args.Item.ID)
	tx := args.Tx

	// Nothing can have vanished from a new item.
	if !args.Created {
		current := make(map[string]bool, len(args.Entry.Enclosures))
		for _, e := range args.Entry.Enclosures {
			current[e.Href] = true
		}
		stored, err := tx.FindEnclosures(ctx, storage.OwnedBy(args.Item.ID))
		if err != nil {
			return fmt.Errorf("find enclosures: %w", err)
		}
		for _, e := range stored {
			if !current[e.Href] {
				log.Debug("enclosure no longer exists, deleting", "enclosure_id", e.ID, "href", e.Href)
				tx.Remove(e)
			}
		}
		if err := tx.Flush(ctx); err != nil {
			return err
		}
	}

	for _, data := range args.Entry.Enclosures {
		if data.Href == "" {
			log.Debug("enclosure has no href, skipped")
			continue
		}
		if err := s.process(ctx, args, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) process(ctx context.Context, item *addins.ProcessItemArgs, data fetcher.Enclosure) error {
	tx := item.Tx
	found, err := tx.FindEnclosures(ctx, storage.OwnedBy(item.Item.ID, storage.Eq("href", data.Href)))
	if err != nil {
		return fmt.Errorf("find enclosure %q: %w", data.Href, err)
	}
	enc, err := storage.One(found)
	if errors.Is(err, storage.ErrAmbiguous) {
		item.Logger(s).Warn("ambiguous enclosure, skipped", "item_id", item.Item.ID, "href", data.Href)
		return nil
	}

	args := &Args{
		Env:   item.Env,
		Feed:  item.Feed,
		Item:  item.Item,
		Entry: item.Entry,
		Data:  data,
	}
	if enc == nil {
		if enc, err = s.create(ctx, args); err != nil {
			return err
		}
		args.Created = true
	} else {
		args.Enclosure = enc
		if err := item.Hooks.TriggerAll(ctx, FoundEnclosure, args); err != nil {
			return err
		}
	}

	if err := item.Hooks.TriggerAll(ctx, ProcessEnclosure, args); err != nil {
		return err
	}
	return tx.Flush(ctx)
}

func (s *Store) create(ctx context.Context, args *Args) (*model.Enclosure, error) {
	res, err := args.Hooks.Trigger(ctx, CreateEnclosure, args)
	if err != nil {
		return nil, err
	}
	enc, _ := res.(*model.Enclosure)
	if !hooks.IsEmpty(res) && enc == nil {
		return nil, fmt.Errorf("hook %s: result of type %T, want *model.Enclosure", CreateEnclosure, res)
	}
	if enc == nil {
		enc = model.NewEnclosure(args.Item, args.Data.Href)
	}
	if enc.ItemID == 0 {
		enc.ItemID = args.Item.ID
	}
	if enc.Href == "" {
		enc.Href = args.Data.Href
	}
	args.Tx.Add(enc)
	args.Enclosure = enc

	if err := args.Hooks.TriggerAll(ctx, NewEnclosure, args); err != nil {
		return nil, err
	}
	if err := args.Tx.Flush(ctx); err != nil {
		return nil, err
	}
	args.Logger(s).Debug("new enclosure", "item_id", args.Item.ID, "href", enc.Href)
	return enc, nil
}

// Data stores the length and MIME type of enclosures.
type Data struct{}

// NewData returns a Data.
func NewData() *Data { return &Data{} }

func (d *Data) Name() string { return "collect_enclosure_data" }

func (d *Data) Depends() []addins.Decl {
	return []addins.Decl{addins.UseType(addins.TypeOf(NewStore))}
}

func (d *Data) Fields() model.Schema {
	return model.Schema{model.KindEnclosure: {
		"length": model.TypeInt,
		"type":   model.TypeString,
	}}
}

func (d *Data) Callbacks() []addins.Registration {
	cb := hooks.Func(d.collect)
	return []addins.Registration{
		{Hook: NewEnclosure, Callback: cb},
		{Hook: FoundEnclosure, Callback: cb},
	}
}

func (d *Data) collect(_ context.Context, v any) (any, error) {
	args, ok := v.(*Args)
	if !ok {
		return nil, fmt.Errorf("collect_enclosure_data: unexpected arguments %T", v)
	}
	enc := args.Enclosure
	if args.Data.Length > 0 {
		enc.Fields.Set("length", args.Data.Length)
	} else {
		enc.Fields.Delete("length")
	}
	if args.Data.Type != "" {
		enc.Fields.Set("type", args.Data.Type)
	} else {
		enc.Fields.Delete("type")
	}
	return nil, nil
}
