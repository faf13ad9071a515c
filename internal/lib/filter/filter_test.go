package filter

import (
	"context"
	"testing"

	"feedplatform/internal/addins"
	"feedplatform/internal/fetcher"
	engine "feedplatform/internal/filter"
	"feedplatform/internal/model"
)

func TestRules(t *testing.T) {
	rules, err := NewRules([]engine.Rule{
		{Kind: engine.Include, Scope: engine.ScopeAll, Value: "kubernetes"},
		{Kind: engine.ExcludeRe, Scope: engine.ScopeContent, Value: "promo|sponsored"},
	})
	if err != nil {
		t.Fatalf("NewRules: %v", err)
	}

	tests := []struct {
		name     string
		fields   model.Fields
		wantSkip bool
	}{
		{
			name:   "title match",
			fields: model.Fields{fetcher.FieldTitle: "Kubernetes 1.32 Released"},
		},
		{
			name:   "summary match",
			fields: model.Fields{fetcher.FieldTitle: "Release notes", fetcher.FieldSummary: "All about Kubernetes"},
		},
		{
			name:   "content used without summary",
			fields: model.Fields{fetcher.FieldTitle: "Release notes", fetcher.FieldContent: "All about Kubernetes"},
		},
		{
			name:     "no include match",
			fields:   model.Fields{fetcher.FieldTitle: "Python news"},
			wantSkip: true,
		},
		{
			name:     "excluded content",
			fields:   model.Fields{fetcher.FieldTitle: "Kubernetes", fetcher.FieldSummary: "Sponsored post"},
			wantSkip: true,
		},
		{
			name:     "empty entry",
			fields:   nil,
			wantSkip: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := &addins.ItemArgs{Entry: fetcher.NewEntry(tt.fields)}
			skip, err := rules.OnItem(context.Background(), args)
			if err != nil {
				t.Fatalf("OnItem: %v", err)
			}
			if skip != tt.wantSkip {
				t.Errorf("skip = %t, want %t", skip, tt.wantSkip)
			}
		})
	}
}

func TestNewRulesInvalidRegex(t *testing.T) {
	if _, err := NewRules([]engine.Rule{{Kind: engine.IncludeRe, Value: "[invalid"}}); err == nil {
		t.Error("expected error, got nil")
	}
}
