package cluster

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "depicting": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"image": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "over": {}, "photo": {}, "picture": {},
	"shows": {}, "showing": {}, "some": {}, "that": {}, "the": {}, "their": {},
	"there": {}, "this": {}, "to": {}, "under": {}, "with": {},
}

// tokenizer is not safe for concurrent use; the x/text transformers it
// holds are stateful.
type tokenizer struct {
	fold  transform.Transformer
	lower cases.Caser
}

func newTokenizer() *tokenizer {
	return &tokenizer{
		fold:  transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		lower: cases.Lower(language.Und),
	}
}

// Tokens splits text into lowercase words with diacritics folded, dropping
// stop-words and single characters.
func (t *tokenizer) Tokens(text string) []string {
	folded, _, err := transform.String(t.fold, text)
	if err != nil {
		folded = text
	}
	folded = t.lower.String(folded)

	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, field := range fields {
		if len([]rune(field)) < 2 {
			continue
		}
		if _, stop := stopWords[field]; stop {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

// topTokens returns at most k tokens ordered by descending count, then
// alphabetically.
func topTokens(counts map[string]int, k int) []string {
	tokens := make([]string, 0, len(counts))
	for token := range counts {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if counts[tokens[i]] != counts[tokens[j]] {
			return counts[tokens[i]] > counts[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})
	if len(tokens) > k {
		tokens = tokens[:k]
	}
	return tokens
}
