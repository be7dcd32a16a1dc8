package mirrorup

import (
	"bufio"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// RuleKind tags how an exclusion rule matches a candidate.
type RuleKind int

const (
	// RuleBareDomain is the legacy form without a "domain=" prefix; it
	// matches by substring on the candidate host.
	RuleBareDomain RuleKind = iota
	// RuleDomain matches the candidate host exactly (case-insensitive).
	RuleDomain
	// RuleCountry matches the candidate country name.
	RuleCountry
	// RuleCountryCode matches the candidate country code.
	RuleCountryCode
)

// Rule is one ordered entry of the exclusion rule list. A negated rule
// re-includes candidates that an earlier rule excluded.
type Rule struct {
	Kind    RuleKind
	Value   string
	Negated bool
}

// Rules is an ordered rule list. Order is significant: for each candidate
// the verdict of the last matching rule wins.
type Rules []Rule

// ParseRule converts one exclude line to a rule. The second return value
// is false for blank lines and comments. Lines look like:
//
//	ban.this.mirror          # bare domain, substring match
//	domain = ban.this.mirror # exact host match
//	country = SomeCountry
//	country_code = SC
//	!domain = keep.this.mirror
//
// Comments start with '#' or ';' and may trail a rule. Matching is
// case-insensitive, so the whole line is lower-cased.
func ParseRule(line string) (Rule, bool, error) {
	if i := strings.IndexAny(line, "#;"); i >= 0 {
		line = line[:i]
	}
	line = strings.ToLower(strings.TrimSpace(line))
	if line == "" {
		return Rule{}, false, nil
	}

	var rule Rule
	if strings.HasPrefix(line, "!") {
		rule.Negated = true
		line = strings.TrimSpace(line[1:])
		if line == "" {
			return Rule{}, false, errors.New("negation without a pattern")
		}
	}

	key, value, found := strings.Cut(line, "=")
	if !found {
		rule.Kind = RuleBareDomain
		rule.Value = line
		return rule, true, nil
	}

	key = strings.TrimSpace(key)
	rule.Value = strings.TrimSpace(value)
	if rule.Value == "" {
		return Rule{}, false, errors.New("empty value in exclude rule: " + key)
	}

	switch key {
	case "domain":
		rule.Kind = RuleDomain
	case "country":
		rule.Kind = RuleCountry
	case "country_code":
		rule.Kind = RuleCountryCode
	default:
		return Rule{}, false, errors.New("unknown exclude rule kind: " + key)
	}
	return rule, true, nil
}

// ParseRules converts a list of exclude patterns, e.g. repeated --exclude
// options, preserving their order.
func ParseRules(lines []string) (Rules, error) {
	var rules Rules
	for _, line := range lines {
		rule, ok, err := ParseRule(line)
		if err != nil {
			return nil, errors.Wrap(err, "parse exclude rule")
		}
		if !ok {
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRules reads exclude rules line by line, preserving file order.
func LoadRules(r io.Reader) (Rules, error) {
	var rules Rules
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		rule, ok, err := ParseRule(scanner.Text())
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		if !ok {
			continue
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read exclude rules")
	}
	return rules, nil
}

// matches reports whether the rule applies to the candidate.
func (r *Rule) matches(c *Candidate) bool {
	switch r.Kind {
	case RuleBareDomain:
		return strings.Contains(c.Host(), r.Value)
	case RuleDomain:
		return c.Host() == r.Value
	case RuleCountry:
		return strings.ToLower(c.Country) == r.Value
	case RuleCountryCode:
		return strings.ToLower(c.CountryCode) == r.Value
	}
	return false
}

// Included folds the full rule list over one candidate. Every candidate
// starts included; each matching rule overwrites the verdict, so the last
// match wins. Negated rules include, plain rules exclude.
func (rs Rules) Included(c *Candidate) bool {
	included := true
	for i := range rs {
		if rs[i].matches(c) {
			included = rs[i].Negated
		}
	}
	return included
}

// Apply returns the candidates whose final verdict is included, in input
// order. Verdicts are independent per candidate.
func (rs Rules) Apply(candidates []Candidate) []Candidate {
	if len(rs) == 0 {
		return candidates
	}
	kept := make([]Candidate, 0, len(candidates))
	for i := range candidates {
		if rs.Included(&candidates[i]) {
			kept = append(kept, candidates[i])
		}
	}
	return kept
}
