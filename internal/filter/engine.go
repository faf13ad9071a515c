// Package filter implements the entry matching engine.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind defines the type of a rule.
type Kind string

// Rule kinds.
const (
	Include   Kind = "include"
	Exclude   Kind = "exclude"
	IncludeRe Kind = "include_re"
	ExcludeRe Kind = "exclude_re"
)

// Scope defines which part of an entry a rule matches against.
type Scope string

// Rule scopes.
const (
	ScopeTitle   Scope = "title"
	ScopeContent Scope = "content"
	ScopeAll     Scope = "all"
)

// Rule is a single filtering rule.
type Rule struct {
	Kind  Kind   `yaml:"kind"`
	Scope Scope  `yaml:"scope"`
	Value string `yaml:"value"`
}

// Item is the text of an entry to be matched.
type Item struct {
	Title   string
	Content string
}

type compiled struct {
	include bool
	scope   Scope
	word    string
	re      *regexp.Regexp
}

// Set is a compiled list of rules.
type Set struct {
	rules       []compiled
	hasIncludes bool
}

// Compile validates rules. An empty scope means ScopeAll.
func Compile(rules []Rule) (*Set, error) {
	s := &Set{rules: make([]compiled, 0, len(rules))}
	for i, r := range rules {
		c := compiled{scope: r.Scope}
		switch c.scope {
		case "":
			c.scope = ScopeAll
		case ScopeTitle, ScopeContent, ScopeAll:
		default:
			return nil, fmt.Errorf("rule %d: unknown scope %q", i, r.Scope)
		}
		if r.Value == "" {
			return nil, fmt.Errorf("rule %d: empty value", i)
		}

		switch r.Kind {
		case Include, Exclude:
			c.word = strings.ToLower(r.Value)
		case IncludeRe, ExcludeRe:
			re, err := compileRegex(r.Value)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			c.re = re
		default:
			return nil, fmt.Errorf("rule %d: unknown kind %q", i, r.Kind)
		}
		c.include = r.Kind == Include || r.Kind == IncludeRe
		s.hasIncludes = s.hasIncludes || c.include
		s.rules = append(s.rules, c)
	}
	return s, nil
}

// Len returns the number of rules.
func (s *Set) Len() int {
	return len(s.rules)
}

// Match checks whether an item passes the rules.
// An empty set passes everything.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
func (s *Set) Match(item Item) bool {
	anyIncludeMatched := false
	for _, r := range s.rules {
		hit := r.matches(item)
		switch {
		case !r.include && hit:
			return false
		case r.include && hit:
			anyIncludeMatched = true
		}
	}
	return !s.hasIncludes || anyIncludeMatched
}

func (r compiled) matches(item Item) bool {
	text := textForScope(item, r.scope)
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, r.word)
}

func textForScope(item Item, scope Scope) string {
	switch scope {
	case ScopeTitle:
		return strings.ToLower(item.Title)
	case ScopeContent:
		return strings.ToLower(item.Content)
	default:
		return strings.ToLower(item.Title + " " + item.Content)
	}
}

func compileRegex(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return re, nil
}
