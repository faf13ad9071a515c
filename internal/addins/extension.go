package addins

import (
	"context"
	"log/slog"

	"feedplatform/internal/fetcher"
	"feedplatform/internal/hooks"
	"feedplatform/internal/model"
	"feedplatform/internal/storage"
)

// Extension is an installable unit of aggregator behaviour. What it does is
// decided by the capability interfaces below that it implements.
type Extension interface {
	Name() string
}

// Env is passed to every callback.
type Env struct {
	// Tx is the transaction of the feed being processed.
	Tx    storage.Tx
	Log   *slog.Logger
	Hooks *hooks.Registry
}

// Logger returns the log namespaced for ext.
func (e Env) Logger(ext Extension) *slog.Logger {
	log := e.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return log.With("addin", ext.Name())
}

// BeforeParseArgs is passed to before_parse. Extensions may adjust the
// fetch options.
type BeforeParseArgs struct {
	Env
	Feed    *model.Feed
	Options *fetcher.Options
}

// AfterParseArgs is passed to after_parse.
type AfterParseArgs struct {
	Env
	Feed   *model.Feed
	Result *fetcher.Result
}

// ItemArgs is passed to item.
type ItemArgs struct {
	Env
	Feed   *model.Feed
	Result *fetcher.Result
	Entry  *fetcher.Entry
}

// GUIDArgs is passed to get_guid, need_guid and no_guid.
type GUIDArgs struct {
	Env
	Feed  *model.Feed
	Entry *fetcher.Entry
}

// LookupArgs is passed to get_item, need_item and create_item.
type LookupArgs struct {
	Env
	Feed  *model.Feed
	Entry *fetcher.Entry
	GUID  string
}

// ItemEventArgs is passed to new_item and found_item.
type ItemEventArgs struct {
	Env
	Feed  *model.Feed
	Item  *model.Item
	Entry *fetcher.Entry
}

// ProcessItemArgs is passed to process_item.
type ProcessItemArgs struct {
	Env
	Feed    *model.Feed
	Item    *model.Item
	Entry   *fetcher.Entry
	Created bool
}

// BeforeParser handles before_parse. Returning true skips the feed.
type BeforeParser interface {
	OnBeforeParse(ctx context.Context, args *BeforeParseArgs) (bool, error)
}

// AfterParser handles after_parse. Returning true stops processing the feed.
type AfterParser interface {
	OnAfterParse(ctx context.Context, args *AfterParseArgs) (bool, error)
}

// ItemFilter handles item. Returning true skips the entry.
type ItemFilter interface {
	OnItem(ctx context.Context, args *ItemArgs) (bool, error)
}

// GUIDGetter handles get_guid, which overrides the entry's own id.
type GUIDGetter interface {
	OnGetGUID(ctx context.Context, args *GUIDArgs) (string, error)
}

// GUIDFallback handles need_guid, tried when an entry has no id.
type GUIDFallback interface {
	OnNeedGUID(ctx context.Context, args *GUIDArgs) (string, error)
}

// NoGUIDObserver handles no_guid.
type NoGUIDObserver interface {
	OnNoGUID(ctx context.Context, args *GUIDArgs) error
}

// ItemGetter handles get_item, tried before the store lookup.
type ItemGetter interface {
	OnGetItem(ctx context.Context, args *LookupArgs) (*model.Item, error)
}

// ItemFallback handles need_item, tried when the store has no match.
type ItemFallback interface {
	OnNeedItem(ctx context.Context, args *LookupArgs) (*model.Item, error)
}

// ItemCreator handles create_item. The returned item replaces the default
// one; it is added to the transaction by the engine.
type ItemCreator interface {
	OnCreateItem(ctx context.Context, args *LookupArgs) (*model.Item, error)
}

// NewItemObserver handles new_item. It runs before the item is flushed.
type NewItemObserver interface {
	OnNewItem(ctx context.Context, args *ItemEventArgs) error
}

// FoundItemObserver handles found_item.
type FoundItemObserver interface {
	OnFoundItem(ctx context.Context, args *ItemEventArgs) error
}

// ItemProcessor handles process_item. The item has an ID.
type ItemProcessor interface {
	OnProcessItem(ctx context.Context, args *ProcessItemArgs) error
}

// Depender lists the extensions an extension needs.
type Depender interface {
	Depends() []Decl
}

// HookProvider introduces new hook names.
type HookProvider interface {
	ProvideHooks() []string
}

// Registration binds a callback to a hook by name.
type Registration struct {
	Hook     string
	Callback hooks.Callback
	Priority int
}

// CallbackProvider registers callbacks explicitly, e.g. for hooks
// introduced by another extension.
type CallbackProvider interface {
	Callbacks() []Registration
}

// Prioritizer sets the priority of an extension's capability callbacks.
type Prioritizer interface {
	Priority(hook string) int
}

// FieldProvider declares the record fields an extension reads and writes.
type FieldProvider interface {
	Fields() model.Schema
}
