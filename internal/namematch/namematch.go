// Package namematch scores how likely an account holder name belongs to the
// person or business a caller expected. It performs no I/O and is deterministic.
package namematch

import (
	"math"

	"github.com/blnkfinance/openbank/model"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

const (
	DefaultThreshold = 70

	initialWeight   = 0.8
	fuzzyTokenFloor = 0.8

	riskInitialOrMiddle = 10
	riskTransposed      = 5
	riskTransliteration = 15
	riskBusinessMix     = 25
)

const (
	WarningNameMissing      = "account holder name is missing"
	WarningInitials         = "initials used in place of a full name"
	WarningMiddleName       = "middle name present on only one side"
	WarningTransposed       = "first and last names appear transposed"
	WarningTransliteration  = "name required transliteration before comparison"
	WarningNonLatin         = "name contains non-Latin characters"
	WarningBusinessPersonal = "one name looks like a business and the other like a person"

	SuggestFullFirstName   = "confirm full first name"
	SuggestMiddleName      = "consider verifying middle name"
	SuggestNameOrder       = "confirm the order of first and last names"
	SuggestSpelling        = "confirm the spelling used by the bank"
	SuggestAccountType     = "confirm whether the account is held personally or by a business"
	SuggestCheckSimilarity = "check the name for typos"
)

type Matcher struct {
	Threshold int
}

func New(threshold int) *Matcher {
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultThreshold
	}
	return &Matcher{Threshold: threshold}
}

type flags struct {
	initial       bool
	missingMiddle bool
	transposed    bool
	translit      bool
	nonLatin      bool
	businessMix   bool
}

// Evaluate scores candidate (the name the bank holds) against expected
// (the name the caller supplied).
func (m *Matcher) Evaluate(candidate, expected string) model.VerificationResult {
	cand := normalize(candidate)
	exp := normalize(expected)

	if len(cand.tokens) == 0 || len(exp.tokens) == 0 {
		return model.VerificationResult{
			IsValid:     false,
			Confidence:  0,
			Similarity:  0,
			RiskScore:   100,
			Warnings:    []string{WarningNameMissing},
			Suggestions: []string{},
		}
	}

	tokenScore, f := tokenSetScore(cand.tokens, exp.tokens)
	wholeScore := levenshtein.RatioForStrings([]rune(cand.joined()), []rune(exp.joined()), levenshtein.DefaultOptions)

	similarity := int(math.Round(math.Min(1, math.Max(tokenScore, wholeScore)) * 100))

	f.nonLatin = cand.nonLatin || exp.nonLatin
	f.translit = f.nonLatin || ((cand.transliterated || exp.transliterated) && cand.originalLowered != exp.originalLowered)
	f.businessMix = cand.business != exp.business

	risk := 100 - similarity
	var warnings []string
	if f.initial {
		risk += riskInitialOrMiddle
		warnings = append(warnings, WarningInitials)
	}
	if f.missingMiddle {
		risk += riskInitialOrMiddle
		warnings = append(warnings, WarningMiddleName)
	}
	if f.transposed {
		risk += riskTransposed
		warnings = append(warnings, WarningTransposed)
	}
	if f.translit {
		risk += riskTransliteration
		if f.nonLatin {
			warnings = append(warnings, WarningNonLatin)
		} else {
			warnings = append(warnings, WarningTransliteration)
		}
	}
	if f.businessMix {
		risk += riskBusinessMix
		warnings = append(warnings, WarningBusinessPersonal)
	}
	risk = clamp(risk)
	confidence := clamp(100 - risk)

	result := model.VerificationResult{
		IsValid:     confidence >= m.Threshold,
		Confidence:  confidence,
		Similarity:  similarity,
		RiskScore:   risk,
		Warnings:    nonNil(warnings),
		Suggestions: []string{},
	}
	if result.IsValid && confidence < 100 {
		result.Suggestions = suggestions(f)
	}
	return result
}

func suggestions(f flags) []string {
	var out []string
	if f.initial {
		out = append(out, SuggestFullFirstName)
	}
	if f.missingMiddle {
		out = append(out, SuggestMiddleName)
	}
	if f.transposed {
		out = append(out, SuggestNameOrder)
	}
	if f.translit {
		out = append(out, SuggestSpelling)
	}
	if f.businessMix {
		out = append(out, SuggestAccountType)
	}
	if len(out) == 0 {
		out = append(out, SuggestCheckSimilarity)
	}
	return out
}

// tokenSetScore matches candidate tokens greedily, in order, against the
// best unused expected token. Unmatched middle tokens are left out of the
// denominator and reported as a missing middle name instead.
func tokenSetScore(cand, exp []string) (float64, flags) {
	var f flags
	matchOf := make([]int, len(cand))
	usedExp := make([]bool, len(exp))
	sum := 0.0

	for i, c := range cand {
		matchOf[i] = -1
		best, bestWeight, bestInitial := -1, 0.0, false
		for j, e := range exp {
			if usedExp[j] {
				continue
			}
			w, initial := tokenWeight(c, e)
			if w > bestWeight {
				best, bestWeight, bestInitial = j, w, initial
			}
		}
		if best >= 0 {
			matchOf[i] = best
			usedExp[best] = true
			sum += bestWeight
			if bestInitial {
				f.initial = true
			}
		}
	}

	matchedCand := make([]bool, len(cand))
	for i, j := range matchOf {
		matchedCand[i] = j >= 0
	}

	excludedCand := unmatchedMiddles(matchedCand)
	excludedExp := unmatchedMiddles(usedExp)
	if excludedCand > 0 || excludedExp > 0 {
		f.missingMiddle = true
	}

	if len(cand) >= 2 && len(exp) >= 2 && matchOf[0] == len(exp)-1 && matchOf[len(cand)-1] == 0 {
		f.transposed = true
	}

	denominator := math.Max(float64(len(cand)-excludedCand), float64(len(exp)-excludedExp))
	if denominator == 0 {
		return 0, f
	}
	return sum / denominator, f
}

// unmatchedMiddles counts unmatched inner tokens when both outer tokens matched.
func unmatchedMiddles(matched []bool) int {
	if len(matched) < 3 || !matched[0] || !matched[len(matched)-1] {
		return 0
	}
	n := 0
	for _, ok := range matched[1 : len(matched)-1] {
		if !ok {
			n++
		}
	}
	return n
}

func tokenWeight(a, b string) (float64, bool) {
	if a == b {
		return 1, false
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 1 && len(rb) > 1 && rb[0] == ra[0] {
		return initialWeight, true
	}
	if len(rb) == 1 && len(ra) > 1 && ra[0] == rb[0] {
		return initialWeight, true
	}
	if len(ra) == 1 || len(rb) == 1 {
		return 0, false
	}
	ratio := levenshtein.RatioForStrings(ra, rb, levenshtein.DefaultOptions)
	if ratio >= fuzzyTokenFloor {
		return ratio, false
	}
	return 0, false
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
