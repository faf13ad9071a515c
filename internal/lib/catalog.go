// Package lib maps addin names, as used in configuration files, to the
// built-in extensions.
package lib

import (
	"errors"
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"feedplatform/internal/addins"
	engine "feedplatform/internal/filter"
	"feedplatform/internal/lib/bozo"
	"feedplatform/internal/lib/collect"
	"feedplatform/internal/lib/enclosures"
	"feedplatform/internal/lib/filter"
	"feedplatform/internal/lib/guid"
	"feedplatform/internal/lib/httpaddin"
	"feedplatform/internal/lib/metrics"
	"feedplatform/internal/lib/notify"
)

// ErrNoSender is returned for notify_telegram when no bot token is
// configured.
var ErrNoSender = errors.New("notify_telegram requires a Telegram bot token")

// Deps holds what some addins need besides their own arguments.
type Deps struct {
	Sender     notify.Sender
	Registerer prometheus.Registerer
}

// Decoder fills v from an addin's arguments. Fields without an argument
// keep their value.
type Decoder func(v any) error

// Factory builds an addin from its arguments.
type Factory func(decode Decoder) (addins.Extension, error)

// Catalog returns a factory for every built-in addin.
func Catalog(deps Deps) map[string]Factory {
	return map[string]Factory{
		"guid_by_content": func(decode Decoder) (addins.Extension, error) {
			g := guid.NewByContent()
			return g, decode(g)
		},
		"guid_by_enclosure": func(decode Decoder) (addins.Extension, error) {
			g := guid.NewByEnclosure()
			return g, decode(g)
		},
		"guid_by_link": func(decode Decoder) (addins.Extension, error) {
			g := guid.NewByLink()
			return g, decode(g)
		},
		"guid_by_date": func(decode Decoder) (addins.Extension, error) {
			g := guid.NewByDate()
			return g, decode(g)
		},
		"collect_feed_data": func(decode Decoder) (addins.Extension, error) {
			var opts collect.Options
			if err := decode(&opts); err != nil {
				return nil, err
			}
			return collect.NewFeedData(opts)
		},
		"collect_item_data": func(decode Decoder) (addins.Extension, error) {
			var opts collect.Options
			if err := decode(&opts); err != nil {
				return nil, err
			}
			return collect.NewItemData(opts)
		},
		"store_enclosures": func(Decoder) (addins.Extension, error) {
			return enclosures.NewStore(), nil
		},
		"collect_enclosure_data": func(Decoder) (addins.Extension, error) {
			return enclosures.NewData(), nil
		},
		"update_redirects": func(decode Decoder) (addins.Extension, error) {
			var args struct {
				Strategy httpaddin.Strategy `yaml:"strategy"`
			}
			if err := decode(&args); err != nil {
				return nil, err
			}
			return httpaddin.NewUpdateRedirects(args.Strategy)
		},
		"save_bandwidth": func(Decoder) (addins.Extension, error) {
			return httpaddin.NewSaveBandwidth(), nil
		},
		"filter": func(decode Decoder) (addins.Extension, error) {
			var args struct {
				Rules []engine.Rule `yaml:"rules"`
			}
			if err := decode(&args); err != nil {
				return nil, err
			}
			return filter.NewRules(args.Rules)
		},
		"reject_bozo": func(Decoder) (addins.Extension, error) {
			return bozo.NewReject(), nil
		},
		"notify_telegram": func(decode Decoder) (addins.Extension, error) {
			var args struct {
				ChatID int64 `yaml:"chat_id"`
			}
			if err := decode(&args); err != nil {
				return nil, err
			}
			if deps.Sender == nil {
				return nil, ErrNoSender
			}
			return notify.NewTelegram(deps.Sender, args.ChatID)
		},
		"prometheus": func(Decoder) (addins.Extension, error) {
			return metrics.NewPrometheus(deps.Registerer)
		},
	}
}

// Names returns the names in catalog, sorted.
func Names(catalog map[string]Factory) []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
