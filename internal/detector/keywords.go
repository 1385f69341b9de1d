package detector

import "sort"

// riskKeywords is the global risk-keyword table. Each hit contributes its
// weight, scaled by 1 + 0.2*(count-1) when the keyword repeats inside a
// message; the sum is normalised by word count and a x10 scale factor, then
// clamped to [0,1].
var riskKeywords = map[string]float64{
	// High risk keywords
	"nude": 1.0, "naked": 1.0, "undress": 1.0, "strip": 1.0,
	"webcam": 0.8, "camera": 0.6, "photo": 0.5, "picture": 0.4,
	"secret": 0.7, "private": 0.5, "alone": 0.6, "meet": 0.7,
	"age": 0.4, "mature": 0.6, "special": 0.5, "different": 0.4,
	"understand": 0.5, "trust": 0.6, "love": 0.5, "care": 0.4,

	// Location/meeting related
	"address": 0.8, "location": 0.7, "home": 0.5, "school": 0.6,
	"parents": 0.4, "family": 0.4, "friends": 0.3,

	// Gift/money related
	"money": 0.7, "gift": 0.6, "buy": 0.5, "present": 0.6,
	"treat": 0.5, "spoil": 0.6, "reward": 0.5,

	// Communication secrecy
	"delete": 0.7, "hide": 0.7, "clear": 0.5, "erase": 0.7,
	"history": 0.6, "messages": 0.4, "chat": 0.3,
}

// riskKeywordOrder fixes the summation order over the table, like
// patternScanOrder does for the indicator tables, so float rounding is the
// same on every run.
var riskKeywordOrder = sortedKeywords()

func sortedKeywords() []string {
	keys := make([]string, 0, len(riskKeywords))
	for k := range riskKeywords {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
