package normalize

import "unicode"

// confusables maps Cyrillic and Greek codepoints that render like Latin
// letters to their Latin target. The table is deliberately small: it covers
// the homoglyphs that actually appear in keyword-disguise attacks, not the
// full Unicode confusables registry.
var confusables = map[rune]rune{
	// Cyrillic lowercase
	'а': 'a', // U+0430
	'е': 'e', // U+0435
	'ё': 'e', // U+0451
	'і': 'i', // U+0456
	'ј': 'j', // U+0458
	'о': 'o', // U+043E
	'р': 'p', // U+0440
	'с': 'c', // U+0441
	'ѕ': 's', // U+0455
	'у': 'y', // U+0443
	'х': 'x', // U+0445
	'ԁ': 'd', // U+0501
	'ԛ': 'q', // U+051B
	'ԝ': 'w', // U+051D
	// Cyrillic uppercase
	'А': 'A', 'В': 'B', 'Е': 'E', 'З': '3', 'І': 'I', 'Ј': 'J', 'К': 'K',
	'М': 'M', 'Н': 'H', 'О': 'O', 'Р': 'P', 'С': 'C', 'Ѕ': 'S', 'Т': 'T',
	'У': 'Y', 'Х': 'X',
	// Greek lowercase
	'α': 'a', // U+03B1
	'ε': 'e', // U+03B5
	'ι': 'i', // U+03B9
	'κ': 'k', // U+03BA
	'ν': 'v', // U+03BD
	'ο': 'o', // U+03BF
	'ρ': 'p', // U+03C1
	'τ': 't', // U+03C4
	'υ': 'u', // U+03C5
	'χ': 'x', // U+03C7
	// Greek uppercase
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z', 'Η': 'H', 'Ι': 'I', 'Κ': 'K',
	'Μ': 'M', 'Ν': 'N', 'Ο': 'O', 'Ρ': 'P', 'Τ': 'T', 'Υ': 'Y', 'Χ': 'X',
}

// isConfusable reports whether r is a Cyrillic or Greek codepoint present in
// the confusable table.
func isConfusable(r rune) bool {
	if _, ok := confusables[r]; !ok {
		return false
	}
	return unicode.Is(unicode.Cyrillic, r) || unicode.Is(unicode.Greek, r)
}

// mapConfusables replaces every known confusable codepoint with its Latin
// target and returns the replacement count.
func mapConfusables(s string) (string, int) {
	replaced := 0
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if t, ok := confusables[r]; ok {
			out = append(out, t)
			replaced++
		} else {
			out = append(out, r)
		}
	}
	if replaced == 0 {
		return s, 0
	}
	return string(out), replaced
}
