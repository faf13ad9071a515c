package addins

import (
	"context"
	"fmt"

	"feedplatform/internal/hooks"
)

type binding struct {
	hook string
	cb   hooks.Callback
}

// bindings returns a callback for every capability ext implements. The
// adapters are comparable, so installing one instance twice is reported as
// a duplicate callback.
func bindings(ext Extension) []binding {
	var out []binding
	add := func(hook string, cb hooks.Callback) {
		out = append(out, binding{hook: hook, cb: cb})
	}
	if x, ok := ext.(BeforeParser); ok {
		add(hooks.BeforeParse, beforeParse{x})
	}
	if x, ok := ext.(AfterParser); ok {
		add(hooks.AfterParse, afterParse{x})
	}
	if x, ok := ext.(ItemFilter); ok {
		add(hooks.Item, item{x})
	}
	if x, ok := ext.(GUIDGetter); ok {
		add(hooks.GetGUID, getGUID{x})
	}
	if x, ok := ext.(GUIDFallback); ok {
		add(hooks.NeedGUID, needGUID{x})
	}
	if x, ok := ext.(NoGUIDObserver); ok {
		add(hooks.NoGUID, noGUID{x})
	}
	if x, ok := ext.(ItemGetter); ok {
		add(hooks.GetItem, getItem{x})
	}
	if x, ok := ext.(ItemFallback); ok {
		add(hooks.NeedItem, needItem{x})
	}
	if x, ok := ext.(ItemCreator); ok {
		add(hooks.CreateItem, createItem{x})
	}
	if x, ok := ext.(NewItemObserver); ok {
		add(hooks.NewItem, newItem{x})
	}
	if x, ok := ext.(FoundItemObserver); ok {
		add(hooks.FoundItem, foundItem{x})
	}
	if x, ok := ext.(ItemProcessor); ok {
		add(hooks.ProcessItem, processItem{x})
	}
	return out
}

func badArgs(hook string, args any) error {
	return fmt.Errorf("%s: unexpected arguments %T", hook, args)
}

type beforeParse struct{ x BeforeParser }

func (c beforeParse) Call(ctx context.Context, args any) (any, error) {
	a, ok := args.(*BeforeParseArgs)
	if !ok {
		return nil, badArgs(hooks.BeforeParse, args)
	}
	return c.x.OnBeforeParse(ctx, a)
}

type afterParse struct{ x AfterParser }

func (c afterParse) Call(ctx context.Context, args any) (any, error) {
	a, ok := args.(*AfterParseArgs)
	if !ok {
		return nil, badArgs(hooks.AfterParse, args)
	}
	return c.x.OnAfterParse(ctx, a)
}

type item struct{ x ItemFilter }

func (c item) Call(ctx context.Context, args any) (any, error) {
	a, ok := args.(*ItemArgs)
	if !ok {
		return nil, badArgs(hooks.Item, args)
	}
	return c.x.OnItem(ctx, a)
}

type getGUID struct{ x GUIDGetter }

func (c getGUID) Call(ctx context.Context, args any) (any, error) {
	a, ok := args.(*GUIDArgs)
	if !ok {
		return nil, badArgs(hooks.GetGUID, args)
	}
	return c.x.OnGetGUID(ctx, a)
}

type needGUID struct{ x GUIDFallback }

func (c needGUID) Call(ctx context.Context, args any) (any, error) {
	a, ok := args.(*GUIDArgs)
	if !ok {
		return nil, badArgs(hooks.NeedGUID, args)
	}
	return c.x.OnNeedGUID(ctx, a)
}

type noGUID struct{ x NoGUIDObserver }

func (c noGUID) Call(ctx context.Context, args any) (any, error) {
	a, ok := args.(*GUIDArgs)
	if !ok {
		return nil, badArgs(hooks.NoGUID, args)
	}
	return nil, c.x.OnNoGUID(ctx, a)
}

type getItem struct{ x ItemGetter }

func (c getItem) Call(ctx context.Context, args any) (any, error) {
	a, ok := args.(*LookupArgs)
	if !ok {
		return nil, badArgs(hooks.GetItem, args)
	}
	return c.x.OnGetItem(ctx, a)
}

type needItem struct{ x ItemFallback }

func (c needItem) Call(ctx context.Context, args any) (any, error) {
	a, ok := args.(*LookupArgs)
	if !ok {
		return nil, badArgs(hooks.NeedItem, args)
	}
	return c.x.OnNeedItem(ctx, a)
}

type createItem struct{ x ItemCreator }

func (c createItem) Call(ctx context.Context, args any) (any, error) {
	a, ok := args.(*LookupArgs)
	if !ok {
		return nil, badArgs(hooks.CreateItem, args)
	}
	return c.x.OnCreateItem(ctx, a)
}

type newItem struct{ x NewItemObserver }

func (c newItem) Call(ctx context.Context, args any) (any, error) {
	a, ok := args.(*ItemEventArgs)
	if !ok {
		return nil, badArgs(hooks.NewItem, args)
	}
	return nil, c.x.OnNewItem(ctx, a)
}

type foundItem struct{ x FoundItemObserver }

func (c foundItem) Call(ctx context.Context, args any) (any, error) {
	a, ok := args.(*ItemEventArgs)
	if !ok {
		return nil, badArgs(hooks.FoundItem, args)
	}
	return nil, c.x.OnFoundItem(ctx, a)
}

type processItem struct{ x ItemProcessor }

func (c processItem) Call(ctx context.Context, args any) (any, error) {
	a, ok := args.(*ProcessItemArgs)
	if !ok {
		return nil, badArgs(hooks.ProcessItem, args)
	}
	return nil, c.x.OnProcessItem(ctx, a)
}
