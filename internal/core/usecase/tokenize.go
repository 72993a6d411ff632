package usecase

import (
	"regexp"
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"he": {}, "her": {}, "his": {}, "i": {}, "if": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "my": {}, "no": {}, "not": {}, "of": {}, "on": {},
	"or": {}, "our": {}, "she": {}, "so": {}, "that": {}, "the": {},
	"their": {}, "them": {}, "there": {}, "these": {}, "they": {}, "this": {},
	"to": {}, "was": {}, "we": {}, "were": {}, "what": {}, "when": {},
	"which": {}, "who": {}, "will": {}, "with": {}, "you": {}, "your": {},
	"do": {}, "does": {}, "how": {}, "much": {}, "can": {}, "need": {},
	"needed": {}, "required": {}, "requires": {},
}

type tokenSpan struct {
	token string
	start int
	end   int
}

// tokenizeLower splits on non-alphanumeric runes, lowercasing as it goes.
func tokenizeLower(s string) []string {
	spans := tokenSpans(s)
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = sp.token
	}
	return out
}

// tokenSpans is tokenizeLower plus byte offsets into the source, so
// grounding spans can index back into the answer text. Digits, letters,
// '$', '%', '.' and ',' inside numbers stay glued together so monetary and
// percentage tokens survive as single units.
func tokenSpans(s string) []tokenSpan {
	var out []tokenSpan
	start := -1
	var b strings.Builder
	flush := func(end int) {
		if b.Len() > 0 {
			out = append(out, tokenSpan{token: b.String(), start: start, end: end})
			b.Reset()
			start = -1
		}
	}
	for i, r := range s {
		keep := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '$' || r == '%'
		if !keep && (r == '.' || r == ',') {
			// Keep separators inside numbers: "20,000" and "1.5".
			next := i + 1
			keep = b.Len() > 0 && lastIsDigit(b.String()) && next < len(s) && s[next] >= '0' && s[next] <= '9'
		}
		if keep {
			if b.Len() == 0 {
				start = i
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush(i)
	}
	flush(len(s))
	return out
}

func lastIsDigit(s string) bool {
	if s == "" {
		return false
	}
	c := s[len(s)-1]
	return c >= '0' && c <= '9'
}

// contentTokens drops stopwords and bare punctuation tokens.
func contentTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, stop := stopwords[t]; stop || t == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

var sentenceSplit = regexp.MustCompile(`[.!?]+\s+|\n+`)

func splitSentences(text string) []string {
	parts := sentenceSplit.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var numberPattern = regexp.MustCompile(`\$?\d[\d,]*(?:\.\d+)?%?`)

// extractNumbers returns the normalized numeric tokens of a text: currency
// and percent markers preserved, thousands separators stripped.
func extractNumbers(text string) []string {
	matches := numberPattern.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, normalizeNumber(m))
	}
	return out
}

// normalizeNumber strips formatting so "$20,000.00", "$20000" and "20,000"
// compare by value: separators removed, trailing zero decimals dropped.
func normalizeNumber(s string) string {
	currency := strings.HasPrefix(s, "$")
	percent := strings.HasSuffix(s, "%")
	v := strings.TrimPrefix(s, "$")
	v = strings.TrimSuffix(v, "%")
	v = strings.ReplaceAll(v, ",", "")
	if i := strings.IndexByte(v, '.'); i >= 0 {
		frac := strings.TrimRight(v[i+1:], "0")
		if frac == "" {
			v = v[:i]
		} else {
			v = v[:i+1] + frac
		}
	}
	out := v
	if currency {
		out = "$" + out
	}
	if percent {
		out += "%"
	}
	return out
}

type entityMatch struct {
	text  string
	typ   string
	start int
	end   int
}

var entityPatterns = []struct {
	typ string
	re  *regexp.Regexp
}{
	{"MONEY", regexp.MustCompile(`\$\d[\d,]*(?:\.\d+)?`)},
	{"PERCENT", regexp.MustCompile(`\d[\d,]*(?:\.\d+)?%`)},
	{"DATE", regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:,\s*\d{4})?\b|\b\d{4}-\d{2}-\d{2}\b`)},
	{"ORG", regexp.MustCompile(`\b(?:[A-Z][a-zA-Z&']+\s+){1,4}(?:Bank|Program|Rewards|Checking|Savings|Deposits|Card|Tier|Inc|Corp|LLC)\b`)},
	{"PRODUCT", regexp.MustCompile(`\b(?:Gold|Platinum|Platinum Honors|Diamond|Silver|Bronze)\s+(?:tier|Tier)\b`)},
}

// extractEntities runs the regex recognizers in priority order, keeping the
// earliest non-overlapping matches.
func extractEntities(text string) []entityMatch {
	var all []entityMatch
	for _, p := range entityPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			all = append(all, entityMatch{
				text:  text[loc[0]:loc[1]],
				typ:   p.typ,
				start: loc[0],
				end:   loc[1],
			})
		}
	}
	// Earlier patterns win overlaps; within a pattern, earlier offsets win.
	var kept []entityMatch
	for _, m := range all {
		overlap := false
		for _, k := range kept {
			if m.start < k.end && k.start < m.end {
				overlap = true
				break
			}
		}
		if !overlap {
			kept = append(kept, m)
		}
	}
	return kept
}
