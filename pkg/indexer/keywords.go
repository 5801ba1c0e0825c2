package indexer

import (
	"regexp"
	"sort"
	"strings"
)

// identifierPattern matches identifier-like tokens: alphanumerics and
// underscore, at least 2 characters.
var identifierPattern = regexp.MustCompile(`[A-Za-z0-9_]{2,}`)

// cjkRunPattern matches runs of 2-4 CJK unified ideographs.
var cjkRunPattern = regexp.MustCompile(`[\x{4E00}-\x{9FFF}]{2,4}`)

// stopWords is the fixed bilingual stop word list: common English
// function words plus common Chinese pronouns and particles.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "to": {}, "of": {}, "in": {}, "on": {},
	"at": {}, "by": {}, "for": {}, "with": {}, "about": {}, "as": {}, "into": {},
	"and": {}, "or": {}, "but": {}, "if": {}, "then": {}, "that": {}, "this": {},
	"these": {}, "those": {}, "it": {}, "its": {}, "i": {}, "you": {}, "he": {},
	"she": {}, "we": {}, "they": {}, "do": {}, "does": {}, "did": {}, "can": {},
	"could": {}, "will": {}, "would": {}, "should": {}, "have": {}, "has": {},
	"had": {}, "not": {}, "no": {}, "so": {}, "what": {}, "how": {}, "why": {},
	"when": {}, "where": {}, "who": {}, "which": {}, "from": {}, "up": {}, "out": {},
	"的": {}, "了": {}, "是": {}, "在": {}, "我": {}, "你": {}, "他": {}, "她": {},
	"它": {}, "我们": {}, "你们": {}, "他们": {}, "这": {}, "那": {}, "这个": {},
	"那个": {}, "和": {}, "与": {}, "也": {}, "都": {}, "就": {}, "还": {}, "吗": {},
	"呢": {}, "吧": {}, "啊": {}, "么": {}, "之": {}, "其": {}, "有": {}, "不": {},
}

const maxKeywords = 10

// ExtractKeywords implements the §4.C keyword extraction rule: match
// identifier-like tokens and CJK runs across the concatenation of user
// messages, count frequency, drop case-folded stop words, and return the
// top maxKeywords by frequency, ties broken by first-seen order.
func ExtractKeywords(userMessages []string) []string {
	text := strings.Join(userMessages, " ")

	counts := make(map[string]int)
	var order []string

	record := func(token string) {
		folded := strings.ToLower(token)
		if len(folded) < 2 {
			return
		}
		if _, stop := stopWords[folded]; stop {
			return
		}
		if _, seen := counts[folded]; !seen {
			order = append(order, folded)
		}
		counts[folded]++
	}

	for _, tok := range identifierPattern.FindAllString(text, -1) {
		record(tok)
	}
	for _, tok := range cjkRunPattern.FindAllString(text, -1) {
		record(tok)
	}

	// Stable sort by count descending; ties keep first-seen order because
	// `order` is already in first-seen order and SliceStable preserves it.
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	return order
}
