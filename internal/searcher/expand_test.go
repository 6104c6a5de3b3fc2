package searcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpander_DefaultRules(t *testing.T) {
	e := NewExpander(nil)
	assert.Len(t, e.Rules(), len(DefaultRules()))

	exp := e.Expand("where is the login handler")
	require.True(t, exp.Expanded())
	assert.Equal(t, []string{"authentication", "http"}, exp.Rules)
	assert.Equal(t,
		"where is the login handler authentication login session token credentials middleware http handler route endpoint request response",
		exp.Query)
	assert.Equal(t, []string{"api", "auth", "handler", "login", "middleware", "route", "server", "session"}, exp.FileHints)
}

func TestExpander_NoMatch(t *testing.T) {
	exp := NewExpander(nil).Expand("banana smoothie")
	assert.False(t, exp.Expanded())
	assert.Equal(t, "banana smoothie", exp.Query)
	assert.Empty(t, exp.FileHints)
}

func TestExpander_CustomRules(t *testing.T) {
	e := NewExpander([]Rule{
		{Name: "billing", Triggers: []string{"Invoice", " payment "}, Enrichment: "billing invoice payment", FileHints: []string{"Billing/"}},
		{Name: "empty", Triggers: []string{""}},
	})

	exp := e.Expand("send INVOICE reminders")
	assert.Equal(t, []string{"billing"}, exp.Rules)
	assert.Equal(t, "send INVOICE reminders billing invoice payment", exp.Query)
	assert.Equal(t, []string{"billing/"}, exp.FileHints)

	// A rule fires once however many triggers match
	exp = e.Expand("invoice payment invoice")
	assert.Equal(t, "invoice payment invoice billing invoice payment", exp.Query)

	// Identifier parts trigger rules too
	exp = e.Expand("createInvoice")
	assert.Equal(t, []string{"billing"}, exp.Rules)

	assert.False(t, NewExpander([]Rule{}).Expand("login").Expanded())
}

func TestMatchesHint(t *testing.T) {
	hints := []string{"auth", "readme"}
	assert.True(t, matchesHint("internal/Auth/session.go", hints))
	assert.True(t, matchesHint("README.md", hints))
	assert.False(t, matchesHint("main.go", hints))
	assert.False(t, matchesHint("main.go", nil))
}
