package albumen

import (
	"regexp"
	"strings"
)

// FilteredToken replaces literal matches when a replace rule has no
// replacement text.
const FilteredToken = "[filtered]"

// instruction is one natural-language form a replace rule may take. apply
// reports handled=false to let later strategies try the same phrase.
type instruction struct {
	name    string
	pattern *regexp.Regexp
	apply   func(m []string, phrase string, rule ruleText, text string) (out string, handled bool)
}

type ruleText struct {
	find    string
	replace string
}

var (
	nounAddPattern     = regexp.MustCompile(`(?i)^\s*add\s+['"](.+?)['"]\s+to\s+each\s+([a-z][a-z0-9_-]*)(?:\s+names?)?\s*[.!]?\s*$`)
	replaceWithPattern = regexp.MustCompile(`(?i)^\s*replace\s+['"](.+?)['"]\s+with\s+['"](.*?)['"]\s*[.!]?\s*$`)
	genericAddPattern  = regexp.MustCompile(`(?i)^\s*add\s+['"](.+?)['"]\s+to\s+(?:each|every|all)(?:\s+[a-z][a-z0-9_-]*)?\s*[.!]?\s*$`)
)

var genericNouns = map[string]struct{}{
	"fact":  {},
	"item":  {},
	"one":   {},
	"line":  {},
	"entry": {},
}

// Evaluated in order; the first handler that accepts a phrase wins.
var instructions = []instruction{
	{name: "noun_add", pattern: nounAddPattern, apply: applyNounAdd},
	{name: "replace_with", pattern: replaceWithPattern, apply: applyReplaceWith},
	{name: "generic_add", pattern: genericAddPattern, apply: applyGenericAdd},
}

// applyReplace runs a replace rule against text. The replace field is checked
// for an instruction first, then the find field; anything else is a literal
// case-insensitive substitution of find.
func applyReplace(r ruleText, text string) string {
	for _, phrase := range []string{r.replace, r.find} {
		if strings.TrimSpace(phrase) == "" {
			continue
		}
		for _, ins := range instructions {
			m := ins.pattern.FindStringSubmatch(phrase)
			if m == nil {
				continue
			}
			if out, handled := ins.apply(m, phrase, r, text); handled {
				return out
			}
		}
	}
	return literalReplace(r, text)
}

func applyNounAdd(m []string, _ string, _ ruleText, text string) (string, bool) {
	addition, noun := m[1], singular(strings.ToLower(m[2]))
	if _, generic := genericNouns[noun]; generic {
		return text, false
	}
	re := regexp.MustCompile(`(?i)\b(` + nounForms(noun) + `)\b`)
	return re.ReplaceAllStringFunc(text, func(match string) string {
		return match + " " + addition
	}), true
}

func applyReplaceWith(m []string, _ string, _ ruleText, text string) (string, bool) {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(m[1]))
	return re.ReplaceAllLiteralString(text, m[2]), true
}

func applyGenericAdd(m []string, phrase string, r ruleText, text string) (string, bool) {
	addition := m[1]
	find := strings.TrimSpace(r.find)
	if find == "" || find == strings.TrimSpace(phrase) || strings.Contains(strings.ToLower(text), strings.ToLower(find)) {
		return text + " " + addition, true
	}
	return text, true
}

func literalReplace(r ruleText, text string) string {
	if r.find == "" {
		return text
	}
	replacement := r.replace
	if replacement == "" {
		replacement = FilteredToken
	}
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(r.find))
	return re.ReplaceAllLiteralString(text, replacement)
}

// singular strips a simple English plural so "sponsors" and "entries" match
// their singular forms.
func singular(word string) string {
	switch {
	case strings.HasSuffix(word, "ies") && len(word) > 4:
		return strings.TrimSuffix(word, "ies") + "y"
	case strings.HasSuffix(word, "ss"):
		return word
	case strings.HasSuffix(word, "s") && len(word) > 3:
		return strings.TrimSuffix(word, "s")
	default:
		return word
	}
}

func nounForms(noun string) string {
	quoted := regexp.QuoteMeta(noun)
	if strings.HasSuffix(noun, "y") && len(noun) > 1 {
		stem := regexp.QuoteMeta(strings.TrimSuffix(noun, "y"))
		return stem + `(?:y|ies)`
	}
	return quoted + `(?:s|es)?`
}
