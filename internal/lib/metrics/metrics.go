// Package metrics exposes feed processing counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"feedplatform/internal/addins"
	"feedplatform/internal/hooks"
)

// Prometheus counts parsed feeds and the fate of their entries.
type Prometheus struct {
	feeds      *prometheus.CounterVec
	noGUID     prometheus.Counter
	newItems   prometheus.Counter
	foundItems prometheus.Counter
}

// NewPrometheus registers the counters with reg. Counters already
// registered by an earlier instance are shared.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{}
	var err error
	if p.feeds, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedplatform_feeds_parsed_total",
		Help: "Feeds fetched and parsed, by result",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if p.noGUID, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedplatform_entries_without_guid_total",
		Help: "Entries skipped because no guid could be determined",
	})); err != nil {
		return nil, err
	}
	if p.newItems, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedplatform_items_created_total",
		Help: "Items created",
	})); err != nil {
		return nil, err
	}
	if p.foundItems, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedplatform_items_found_total",
		Help: "Entries matched to an existing item",
	})); err != nil {
		return nil, err
	}
	return p, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	var zero C
	return zero, fmt.Errorf("register metric: %w", err)
}

// ObserverPriority runs the after_parse observer ahead of extensions that
// may stop the feed there, so every parsed feed is counted.
const ObserverPriority = 1 << 20

func (p *Prometheus) Name() string { return "prometheus" }

// Priority implements addins.Prioritizer.
func (p *Prometheus) Priority(hook string) int {
	if hook == hooks.AfterParse {
		return ObserverPriority
	}
	return 0
}

func (p *Prometheus) OnAfterParse(_ context.Context, args *addins.AfterParseArgs) (bool, error) {
	result := "ok"
	switch {
	case args.Result.NotModified:
		result = "not_modified"
	case args.Result.Malformed:
		result = "malformed"
	}
	p.feeds.WithLabelValues(result).Inc()
	return false, nil
}

func (p *Prometheus) OnNoGUID(context.Context, *addins.GUIDArgs) error {
	p.noGUID.Inc()
	return nil
}

func (p *Prometheus) OnNewItem(context.Context, *addins.ItemEventArgs) error {
	p.newItems.Inc()
	return nil
}

func (p *Prometheus) OnFoundItem(context.Context, *addins.ItemEventArgs) error {
	p.foundItems.Inc()
	return nil
}
