package kiln

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFilterRule(t *testing.T) {
	assert := require.New(t)

	var rule = ParseFilterRule(`GET is starts PATH_URL /Private [+] all not empty http_cookie > /srv/denied.html`)

	assert.Equal(`/srv/denied.html`, rule.Target)
	assert.Len(rule.Conditions, 2)
	assert.Equal(`get`, rule.Conditions[0].Method)
	assert.Equal(`starts`, rule.Conditions[0].Function)
	assert.Equal(`path_url`, rule.Conditions[0].Variable)
	assert.Equal(`/private`, rule.Conditions[0].Pattern)
	assert.False(rule.Conditions[0].Negate)
	assert.Equal(`all`, rule.Conditions[1].Method)
	assert.True(rule.Conditions[1].Negate)

	rule = ParseFilterRule(`all always [+] [+] > [R] http://elsewhere/`)
	assert.Len(rule.Conditions, 1)
	assert.True(rule.Conditions[0].Always)
	assert.Equal(`[R] http://elsewhere/`, rule.Target)

	assert.Empty(ParseFilterRule(`> /target`).Conditions)
}

func TestFilterRuleMatches(t *testing.T) {
	assert := require.New(t)
	var env = SectionFromMap(map[string]string{
		`path_url`:    `/private/report.PNG`,
		`http_cookie`: ``,
		`query`:       `name=J%C3%BCrgen`,
	})

	var rule = ParseFilterRule(`get is starts path_url /private [+] all not empty http_cookie > x`)

	// the cookie is empty, so "not empty" fails
	assert.False(rule.Matches(`GET`, env))

	env.Set(`http_cookie`, `session=1`)
	assert.True(rule.Matches(`GET`, env))
	assert.True(rule.Matches(`get`, env))
	assert.False(rule.Matches(`POST`, env))

	for line, expected := range map[string]bool{
		`all always > x`:                                  true,
		`post always > x`:                                 false,
		`get is ends path_url .png > x`:                   true,
		`get is contains path_url /REPORT > x`:            true,
		`get is equals path_url /private/report.png > x`:  true,
		`get not equals path_url /private/report.png > x`: false,
		`get is match path_url /private/.*\.png > x`:      true,
		`get is match path_url .*\.jpg > x`:               false,
		`get is match path_url [unclosed > x`:             false,
		`get is empty remote_user > x`:                    true,
		`get is contains query jürgen > x`:                true,
		`get is starts > x`:                               false,
		`get maybe path_url /private > x`:                 false,
	} {
		assert.Equal(expected, ParseFilterRule(line).Matches(`GET`, env), "rule %q", line)
	}
}

func TestFilterAlwaysShortCircuits(t *testing.T) {
	assert := require.New(t)

	assert.True(ParseFilterRule(`all always [+] get is equals path_url /nope > x`).Matches(`GET`, NewSection()))
	assert.False(ParseFilterRule(`get is equals path_url /nope [+] all always > x`).Matches(`GET`, NewSection()))
}
