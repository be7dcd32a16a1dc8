package mirrorup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want Rule
		ok   bool
	}{
		{"", Rule{}, false},
		{"# This is comment", Rule{}, false},
		{" # This is comment", Rule{}, false},
		{"; This is comment", Rule{}, false},
		{"domain=ban.this.mirror", Rule{Kind: RuleDomain, Value: "ban.this.mirror"}, true},
		{"domain=ban.this.mirror # Comment", Rule{Kind: RuleDomain, Value: "ban.this.mirror"}, true},
		{"domain = ban.this.mirror", Rule{Kind: RuleDomain, Value: "ban.this.mirror"}, true},
		{"country = SomeCountry", Rule{Kind: RuleCountry, Value: "somecountry"}, true},
		{"country_code = SC", Rule{Kind: RuleCountryCode, Value: "sc"}, true},
		{"ban.this.mirror", Rule{Kind: RuleBareDomain, Value: "ban.this.mirror"}, true},
		{"ban.this.mirror # Comment", Rule{Kind: RuleBareDomain, Value: "ban.this.mirror"}, true},
		{"!domain = keep.this.mirror", Rule{Kind: RuleDomain, Value: "keep.this.mirror", Negated: true}, true},
		{"!country_code = SC", Rule{Kind: RuleCountryCode, Value: "sc", Negated: true}, true},
		{"!keep.this.mirror", Rule{Kind: RuleBareDomain, Value: "keep.this.mirror", Negated: true}, true},
	}

	for _, tt := range tests {
		rule, ok, err := ParseRule(tt.line)
		require.NoError(t, err, "line %q", tt.line)
		assert.Equal(t, tt.ok, ok, "line %q", tt.line)
		if tt.ok {
			assert.Equal(t, tt.want, rule, "line %q", tt.line)
		}
	}
}

func TestParseRuleErrors(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		"region = Europe",
		"domain =",
		"domain = # comment only",
		"!",
		"! # nothing after negation",
	} {
		_, _, err := ParseRule(line)
		assert.Error(t, err, "line %q", line)
	}
}

func TestLoadRulesKeepsOrder(t *testing.T) {
	t.Parallel()

	const excludeFile = `
# Banned mirrors
ban.this.mirror
domain = ban.this-mirror.also ; same operator

country = SomeCountry
!domain = keep.in.somecountry
country_code = SC
`
	rules, err := LoadRules(strings.NewReader(excludeFile))
	require.NoError(t, err)

	want := Rules{
		{Kind: RuleBareDomain, Value: "ban.this.mirror"},
		{Kind: RuleDomain, Value: "ban.this-mirror.also"},
		{Kind: RuleCountry, Value: "somecountry"},
		{Kind: RuleDomain, Value: "keep.in.somecountry", Negated: true},
		{Kind: RuleCountryCode, Value: "sc"},
	}
	assert.Equal(t, want, rules)
}

func TestLoadRulesReportsLine(t *testing.T) {
	t.Parallel()

	_, err := LoadRules(strings.NewReader("ban.this.mirror\nregion = Europe\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func candidateIn(url, country, code string) Candidate {
	return Candidate{
		URL:         url,
		Country:     country,
		CountryCode: code,
		Protocol:    "https",
		Completion:  1.0,
		Score:       1.0,
	}
}

func TestRulesLastMatchWins(t *testing.T) {
	t.Parallel()

	mirror := candidateIn("https://mirror.in.sc/archlinux/", "SomeCountry", "SC")
	other := candidateIn("https://other.in.sc/archlinux/", "SomeCountry", "SC")

	rules, err := ParseRules([]string{
		"country_code = SC",
		"!domain = mirror.in.sc",
	})
	require.NoError(t, err)

	assert.True(t, rules.Included(&mirror), "negated rule occurs later and must win")
	assert.False(t, rules.Included(&other), "non-matching negation leaves the exclusion in place")

	// Reversed order flips the verdict for the named mirror.
	reversed := Rules{rules[1], rules[0]}
	assert.False(t, reversed.Included(&mirror))
}

func TestRulesDuplicatesAreIdempotent(t *testing.T) {
	t.Parallel()

	banned := candidateIn("https://x.example/archlinux/", "Elsewhere", "EW")

	rules, err := ParseRules([]string{
		"domain = x.example",
		"domain = x.example",
	})
	require.NoError(t, err)
	assert.False(t, rules.Included(&banned))
}

func TestRulesMatching(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		rule      string
		candidate Candidate
		excluded  bool
	}{
		{
			name:      "domain requires exact host",
			rule:      "domain = mirror.example",
			candidate: candidateIn("https://sub.mirror.example/arch/", "A", "AA"),
			excluded:  false,
		},
		{
			name:      "domain matches case-insensitively",
			rule:      "domain = Mirror.Example",
			candidate: candidateIn("https://MIRROR.EXAMPLE/arch/", "A", "AA"),
			excluded:  true,
		},
		{
			name:      "bare domain matches substring",
			rule:      "mirror.example",
			candidate: candidateIn("https://sub.mirror.example/arch/", "A", "AA"),
			excluded:  true,
		},
		{
			name:      "country matches by name",
			rule:      "country = somecountry",
			candidate: candidateIn("https://m.example/arch/", "SomeCountry", "SC"),
			excluded:  true,
		},
		{
			name:      "country code does not match country name",
			rule:      "country_code = somecountry",
			candidate: candidateIn("https://m.example/arch/", "SomeCountry", "SC"),
			excluded:  false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rules, err := ParseRules([]string{tt.rule})
			require.NoError(t, err)
			assert.Equal(t, tt.excluded, !rules.Included(&tt.candidate))
		})
	}
}

func TestRulesApplyIsIndependentPerCandidate(t *testing.T) {
	t.Parallel()

	candidates := []Candidate{
		candidateIn("https://a.keep.example/arch/", "CountryA", "CA"),
		candidateIn("https://b.banned.example/arch/", "CountryB", "CB"),
		candidateIn("https://c.keep.example/arch/", "CountryB", "CB"),
	}

	rules, err := ParseRules([]string{
		"country_code = CB",
		"!domain = c.keep.example",
	})
	require.NoError(t, err)

	kept := rules.Apply(candidates)
	require.Len(t, kept, 2)
	assert.Equal(t, "https://a.keep.example/arch/", kept[0].URL)
	assert.Equal(t, "https://c.keep.example/arch/", kept[1].URL)
}

func TestRulesEmptyListKeepsEverything(t *testing.T) {
	t.Parallel()

	candidates := []Candidate{candidateIn("https://a.example/", "A", "AA")}
	assert.Equal(t, candidates, Rules(nil).Apply(candidates))
}
