// Package filter skips entries that do not pass a set of include and
// exclude rules.
package filter

import (
	"context"
	"fmt"

	"feedplatform/internal/addins"
	"feedplatform/internal/fetcher"
	engine "feedplatform/internal/filter"
)

// Rules skips every entry its rules reject.
type Rules struct {
	set *engine.Set
}

// NewRules compiles rules. Invalid regular expressions are reported here
// rather than while feeds are processed.
func NewRules(rules []engine.Rule) (*Rules, error) {
	set, err := engine.Compile(rules)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	return &Rules{set: set}, nil
}

func (r *Rules) Name() string { return "filter" }

func (r *Rules) OnItem(_ context.Context, args *addins.ItemArgs) (bool, error) {
	item := engine.Item{}
	item.Title, _ = args.Entry.String(fetcher.FieldTitle)
	if s, ok := args.Entry.NonEmpty(fetcher.FieldSummary); ok {
		item.Content = s
	} else {
		item.Content, _ = args.Entry.String(fetcher.FieldContent)
	}

	if r.set.Match(item) {
		return false, nil
	}
	args.Logger(r).Debug("entry filtered out", "title", item.Title)
	return true, nil
}
