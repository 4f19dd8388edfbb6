// Package adcopy checks ad text against the platform's length limits and a
// set of editorial rules that catch copy-paste mistakes before review does.
package adcopy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/width"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/agent/internal/report"
	"github.com/adlens/adlens/pkg/types"
)

// Rule names, usable in adcopy.disabled_rules.
const (
	RuleHeadlineLength    = "headline_length"
	RuleDescriptionLength = "description_length"
	RulePathLength        = "path_length"
	RuleUnbalanced        = "unbalanced_brackets"
	RulePlaceholder       = "placeholder"
	RuleDoubleSpace       = "double_space"
	RuleRepeatedPunct     = "repeated_punctuation"
	RuleHeadlineExclaim   = "headline_exclamation"
	RuleAllCaps           = "all_caps"
	RuleFinalURL          = "final_url"
	RuleDuplicateHeadline = "duplicate_headline"
)

var (
	// keywordInsertion matches {KeyWord}, {keyword} etc. without a
	// ":default" part; those render empty when the keyword is too long.
	keywordInsertion = regexp.MustCompile(`(?i)\{key ?word\}`)
	fillerText       = regexp.MustCompile(`(?i)\b(todo|tbd|lorem|ipsum|xxx+)\b|ＸＸＸ|○○`)
	keywordTag       = regexp.MustCompile(`(?i)\{key ?word(:[^}]*)?\}`)
	repeatedPunct    = regexp.MustCompile(`[!?！？]{2,}`)
	allCapsWord      = regexp.MustCompile(`\b[A-Z]{4,}\b`)
)

// Width returns the display width of s, counting East Asian wide and
// fullwidth characters as 2.
func Width(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

// Checker applies the ad copy rules.
type Checker struct {
	opts     config.AdCopyOptions
	disabled map[string]bool
}

// NewChecker returns a Checker for opts.
func NewChecker(opts config.AdCopyOptions) *Checker {
	c := &Checker{opts: opts, disabled: make(map[string]bool, len(opts.DisabledRules))}
	for _, r := range opts.DisabledRules {
		c.disabled[r] = true
	}
	return c
}

type field struct {
	name string
	text string
}

// Check returns the findings for one ad row.
func (c *Checker) Check(r report.Row) []types.Finding {
	entity := report.EntityAd.Name(r)
	var out []types.Finding
	add := func(sev, rule, msg string, value float64) {
		if c.disabled[rule] {
			return
		}
		out = append(out, types.Finding{Severity: sev, Entity: entity, Rule: rule, Message: msg, Value: value})
	}

	var fields []field
	for i, h := range r.Headlines {
		fields = append(fields, field{fmt.Sprintf("headline %d", i+1), h})
		if w := Width(h); w > c.opts.HeadlineMax {
			add(types.SeverityCritical, RuleHeadlineLength, fmt.Sprintf("headline %d is %d wide, limit %d", i+1, w, c.opts.HeadlineMax), float64(w))
		}
		if strings.ContainsAny(h, "!！") {
			add(types.SeverityWarning, RuleHeadlineExclaim, fmt.Sprintf("headline %d contains an exclamation mark", i+1), 0)
		}
	}
	for i, d := range r.Descriptions {
		fields = append(fields, field{fmt.Sprintf("description %d", i+1), d})
		if w := Width(d); w > c.opts.DescriptionMax {
			add(types.SeverityCritical, RuleDescriptionLength, fmt.Sprintf("description %d is %d wide, limit %d", i+1, w, c.opts.DescriptionMax), float64(w))
		}
	}
	for i, p := range []string{r.Path1, r.Path2} {
		if p == "" {
			continue
		}
		fields = append(fields, field{fmt.Sprintf("path %d", i+1), p})
		if w := Width(p); w > c.opts.PathMax {
			add(types.SeverityCritical, RulePathLength, fmt.Sprintf("path %d is %d wide, limit %d", i+1, w, c.opts.PathMax), float64(w))
		}
	}

	for _, f := range fields {
		if !balanced(f.text) {
			add(types.SeverityCritical, RuleUnbalanced, f.name+" has unbalanced brackets", 0)
		}
		if keywordInsertion.MatchString(f.text) || fillerText.MatchString(f.text) {
			add(types.SeverityCritical, RulePlaceholder, fmt.Sprintf("%s contains placeholder text: %q", f.name, f.text), 0)
		}
		if strings.Contains(f.text, "  ") || strings.Contains(f.text, "　　") {
			add(types.SeverityInfo, RuleDoubleSpace, f.name+" contains a double space", 0)
		}
		if repeatedPunct.MatchString(f.text) {
			add(types.SeverityWarning, RuleRepeatedPunct, f.name+" repeats punctuation", 0)
		}
		if words := allCapsWords(f.text); len(words) > 0 {
			add(types.SeverityWarning, RuleAllCaps, fmt.Sprintf("%s has all caps words: %s", f.name, strings.Join(words, ", ")), 0)
		}
	}

	if msg := c.checkURL(r.FinalURL); msg != "" {
		add(types.SeverityCritical, RuleFinalURL, msg, 0)
	}

	seen := make(map[string]int, len(r.Headlines))
	for i, h := range r.Headlines {
		k := strings.ToLower(strings.TrimSpace(h))
		if j, ok := seen[k]; ok {
			add(types.SeverityWarning, RuleDuplicateHeadline, fmt.Sprintf("headline %d duplicates headline %d", i+1, j+1), 0)
			continue
		}
		seen[k] = i
	}
	return out
}

func (c *Checker) checkURL(raw string) string {
	if raw == "" {
		return "final URL is missing"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Sprintf("final URL %q is not an absolute URL", raw)
	}
	switch u.Scheme {
	case "https":
		return ""
	case "http":
		if c.opts.AllowHTTP {
			return ""
		}
		return fmt.Sprintf("final URL %q is not https", raw)
	default:
		return fmt.Sprintf("final URL %q has scheme %q", raw, u.Scheme)
	}
}

var closers = map[rune]rune{')': '(', ']': '[', '}': '{', '）': '（', '」': '「', '】': '【'}

func balanced(s string) bool {
	var stack []rune
	for _, r := range s {
		switch r {
		case '(', '[', '{', '（', '「', '【':
			stack = append(stack, r)
		case ')', ']', '}', '）', '」', '】':
			if len(stack) == 0 || stack[len(stack)-1] != closers[r] {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0
}

// allCapsWords returns ASCII words of four or more capitals, ignoring
// keyword insertion tags.
func allCapsWords(s string) []string {
	return allCapsWord.FindAllString(keywordTag.ReplaceAllString(s, ""), -1)
}
