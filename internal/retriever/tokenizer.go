package retriever

import (
	"strings"
	"unicode"
)

// stopwords excluded from the index: high-frequency terms carrying no
// discriminating signal, in the languages the corpus mixes.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "and": {}, "or": {},
	"of": {}, "to": {}, "in": {}, "on": {}, "for": {}, "with": {},
	"的": {}, "是": {}, "和": {}, "或": {}, "如": {}, "但": {},
}

// tokenize splits mixed-script text into lowercase terms.
//
// Latin-script runs split on whitespace and punctuation boundaries; CJK
// ideographs become single-character tokens since there are no word
// boundaries to split on. Stopwords and single-letter Latin fragments are
// dropped.
func tokenize(text string) []string {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	filtered := tokens[:0]
	for _, tok := range tokens {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		// Single-letter Latin fragments are noise; single CJK characters
		// are words and stay.
		if len(tok) == 1 {
			continue
		}
		filtered = append(filtered, tok)
	}
	return filtered
}
