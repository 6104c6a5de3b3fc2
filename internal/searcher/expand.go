package searcher

import (
	"sort"
	"strings"

	"github.com/dshills/devctx/internal/embedder"
)

// Rule maps trigger keywords onto an enrichment phrase and file hints
type Rule struct {
	Name       string   `yaml:"name" json:"name"`
	Triggers   []string `yaml:"triggers" json:"triggers"`
	Enrichment string   `yaml:"enrichment" json:"enrichment"`
	FileHints  []string `yaml:"fileHints" json:"fileHints"` // Lowercase path substrings
}

// Expansion is the outcome of expanding one query
type Expansion struct {
	Query     string   // Original query plus enrichment phrases
	Rules     []string // Names of the rules that fired
	FileHints []string // Sorted, deduplicated
}

// Expanded reports whether any rule fired
func (e *Expansion) Expanded() bool {
	return len(e.Rules) > 0
}

// DefaultRules returns the built-in expansion rules
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "authentication",
			Triggers:   []string{"auth", "authentication", "authenticate", "login", "signin", "session", "jwt", "oauth", "credential", "credentials"},
			Enrichment: "authentication login session token credentials middleware",
			FileHints:  []string{"auth", "login", "session", "middleware"},
		},
		{
			Name:       "database",
			Triggers:   []string{"database", "db", "sql", "sqlite", "postgres", "migration", "migrations", "schema", "query"},
			Enrichment: "database sql schema migration repository transaction",
			FileHints:  []string{"db", "database", "migration", "schema", "store", "repository"},
		},
		{
			Name:       "configuration",
			Triggers:   []string{"config", "configuration", "settings", "env", "environment", "options", "flags"},
			Enrichment: "configuration settings environment variables defaults",
			FileHints:  []string{"config", "settings", ".env"},
		},
		{
			Name:       "errors",
			Triggers:   []string{"error", "errors", "exception", "panic", "failure", "retry"},
			Enrichment: "error handling wrap return failure",
			FileHints:  []string{"error", "errors"},
		},
		{
			Name:       "testing",
			Triggers:   []string{"test", "tests", "testing", "mock", "mocks", "fixture", "assert"},
			Enrichment: "test case assertion mock fixture",
			FileHints:  []string{"_test", "test", "spec", "mock"},
		},
		{
			Name:       "http",
			Triggers:   []string{"api", "endpoint", "endpoints", "route", "routes", "router", "handler", "http", "rest"},
			Enrichment: "http handler route endpoint request response",
			FileHints:  []string{"api", "handler", "route", "server"},
		},
		{
			Name:       "logging",
			Triggers:   []string{"log", "logs", "logging", "logger"},
			Enrichment: "logging logger log level structured fields",
			FileHints:  []string{"log"},
		},
		{
			Name:       "setup",
			Triggers:   []string{"setup", "install", "installation", "readme", "usage", "getting"},
			Enrichment: "installation setup usage getting started",
			FileHints:  []string{"readme", "docs", "install"},
		},
	}
}

// Expander applies keyword-triggered rules to a query
type Expander struct {
	rules    []Rule
	triggers map[string][]int // trigger -> rule indexes
}

// NewExpander builds an expander over rules. Nil rules means DefaultRules.
func NewExpander(rules []Rule) *Expander {
	if rules == nil {
		rules = DefaultRules()
	}
	e := &Expander{
		rules:    rules,
		triggers: make(map[string][]int),
	}
	for i, r := range rules {
		for _, t := range r.Triggers {
			key := strings.ToLower(strings.TrimSpace(t))
			if key == "" {
				continue
			}
			e.triggers[key] = append(e.triggers[key], i)
		}
	}
	return e
}

// Rules returns the configured rules
func (e *Expander) Rules() []Rule {
	return e.rules
}

// Expand matches the query's terms against rule triggers. Each rule fires
// at most once and enrichment phrases are appended in rule order.
func (e *Expander) Expand(query string) *Expansion {
	out := &Expansion{Query: query}

	fired := make(map[int]bool)
	for _, term := range embedder.Tokenize(query) {
		for _, i := range e.triggers[term] {
			fired[i] = true
		}
	}
	if len(fired) == 0 {
		return out
	}

	order := make([]int, 0, len(fired))
	for i := range fired {
		order = append(order, i)
	}
	sort.Ints(order)

	hints := make(map[string]bool)
	var b strings.Builder
	b.WriteString(query)
	for _, i := range order {
		r := e.rules[i]
		out.Rules = append(out.Rules, r.Name)
		if r.Enrichment != "" {
			b.WriteString(" ")
			b.WriteString(r.Enrichment)
		}
		for _, h := range r.FileHints {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				hints[h] = true
			}
		}
	}
	out.Query = b.String()

	for h := range hints {
		out.FileHints = append(out.FileHints, h)
	}
	sort.Strings(out.FileHints)
	return out
}

// matchesHint reports whether a workspace path contains any hint
func matchesHint(path string, hints []string) bool {
	lower := strings.ToLower(path)
	for _, h := range hints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}
