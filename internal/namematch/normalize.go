package namematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var honorifics = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "miss": {}, "mx": {}, "dr": {}, "prof": {},
	"sir": {}, "dame": {}, "jr": {}, "sr": {}, "ii": {}, "iii": {},
}

// Legal suffixes and generic business words. Both are dropped from the
// compared tokens and only mark the name as a business.
var businessTerms = map[string]struct{}{
	"ltd": {}, "limited": {}, "plc": {}, "llc": {}, "llp": {}, "inc": {}, "co": {}, "corp": {},
	"company": {}, "holdings": {}, "group": {}, "trading": {}, "services": {},
	"solutions": {}, "enterprises": {}, "partners": {}, "associates": {}, "consulting": {},
}

// Letters that carry no combining mark under NFD.
var ligatures = strings.NewReplacer(
	"ß", "ss", "æ", "ae", "œ", "oe", "ø", "o", "ł", "l", "đ", "d", "þ", "th", "ı", "i",
)

type normalizedName struct {
	tokens          []string
	transliterated  bool
	nonLatin        bool
	business        bool
	originalLowered string
}

func (n normalizedName) joined() string {
	return strings.Join(n.tokens, " ")
}

func newStripper() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

func normalize(raw string) normalizedName {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	out := normalizedName{originalLowered: lowered}

	stripped, _, err := transform.String(newStripper(), lowered)
	if err != nil {
		stripped = lowered
	}
	stripped = ligatures.Replace(stripped)
	if stripped != norm.NFC.String(lowered) {
		out.transliterated = true
	}

	var b strings.Builder
	for _, r := range stripped {
		switch {
		case r == '\'' || r == '’' || r == '`':
			// O'Brien and OBrien compare equal.
		case unicode.IsLetter(r):
			if !unicode.Is(unicode.Latin, r) {
				out.nonLatin = true
			}
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	var business []string
	for _, f := range strings.Fields(b.String()) {
		if _, ok := honorifics[f]; ok {
			continue
		}
		if _, ok := businessTerms[f]; ok {
			business = append(business, f)
			continue
		}
		out.tokens = append(out.tokens, f)
	}
	out.business = len(business) > 0
	// "Holdings Group" has nothing else to compare.
	if len(out.tokens) == 0 {
		out.tokens = business
	}
	return out
}
