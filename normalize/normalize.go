// Package normalize undoes the obfuscation tricks that hide injection
// payloads from naive pattern matching: Unicode compatibility forms,
// invisible and bidi controls, HTML entities, homoglyph substitution,
// separator stuffing and letter stretching.
//
// Normalize is a pure function; each transformation is recorded only when it
// actually changed the text, so the output doubles as evidence.
package normalize

import (
	"html"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/Waffleophagus/claw-rubber/sanitize"
)

// Transformation names recorded in Result.Transformations.
const (
	TransformNFKC        = "unicode_nfkc"
	TransformInvisible   = "invisible_stripped"
	TransformEntities    = "html_entities_decoded"
	TransformConfusables = "confusables_mapped"
	TransformSeparators  = "separator_runs_collapsed"
	TransformLowercase   = "lowercased"
	TransformRepeats     = "repeat_letters_collapsed"
	TransformWhitespace  = "whitespace_normalized"
)

// Signal flags raised by the normalizer.
const (
	FlagInvisibleOrBidi       = "unicode_invisible_or_bidi"
	FlagConfusableMixedScript = "confusable_mixed_script"
)

// Result is the outcome of one Normalize call.
type Result struct {
	Text              string   // normalized text
	Transformations   []string // applied transformations, in order
	SignalFlags       []string // signals for the scorer
	SuspiciousTokens  []string // mixed-script tokens found by confusable analysis
	ConfusablesMapped int      // count of confusable codepoints replaced
}

// Normalize runs the full transformation chain over text.
func Normalize(text string) Result {
	var res Result
	cur := text

	record := func(next, name string) string {
		if next != cur {
			res.Transformations = append(res.Transformations, name)
		}
		return next
	}

	// 1. Unicode NFKC.
	cur = record(norm.NFKC.String(cur), TransformNFKC)

	// 2. Invisible / bidi controls.
	stripped := stripInvisible(cur)
	if stripped != cur {
		res.Transformations = append(res.Transformations, TransformInvisible)
		res.SignalFlags = append(res.SignalFlags, FlagInvisibleOrBidi)
		cur = stripped
	}

	// 3. HTML entities.
	cur = record(html.UnescapeString(cur), TransformEntities)

	// 4. Confusable analysis. Suspicious tokens are detected on the
	// pre-replacement text; the mapping then applies globally.
	res.SuspiciousTokens = suspiciousTokens(cur)
	mapped, count := mapConfusables(cur)
	res.ConfusablesMapped = count
	if count > 0 {
		res.Transformations = append(res.Transformations, TransformConfusables)
		cur = mapped
	}
	if len(res.SuspiciousTokens) > 0 {
		res.SignalFlags = append(res.SignalFlags, FlagConfusableMixedScript)
	}

	// 5. Separator runs.
	cur = record(collapseSeparators(cur), TransformSeparators)

	// 6. Lowercase.
	cur = record(strings.ToLower(cur), TransformLowercase)

	// 7. Stretched letters.
	cur = record(collapseRepeats(cur), TransformRepeats)

	// 8. Whitespace.
	cur = record(sanitize.NormalizeWhitespace(cur), TransformWhitespace)

	res.Text = cur
	return res
}

// isInvisible reports membership in the stripped control set: C0 except
// TAB, LF and CR, DEL, zero-width and bidi controls, word joiner, BOM.
func isInvisible(r rune) bool {
	switch {
	case r >= 0x0000 && r <= 0x0008:
		return true
	case r == 0x000B || r == 0x000C:
		return true
	case r >= 0x000E && r <= 0x001F:
		return true
	case r == 0x007F:
		return true
	case r >= 0x200B && r <= 0x200F:
		return true
	case r >= 0x202A && r <= 0x202E:
		return true
	case r == 0x2060:
		return true
	case r >= 0x2066 && r <= 0x2069:
		return true
	case r == 0xFEFF:
		return true
	}
	return false
}

// HasInvisible reports whether s contains any invisible/bidi codepoint.
// The scorer's raw-basis invisible_characters rule uses this.
func HasInvisible(s string) bool {
	for _, r := range s {
		if isInvisible(r) {
			return true
		}
	}
	return false
}

// FindInvisible returns the byte offset and codepoint of the first
// invisible character, or (-1, 0).
func FindInvisible(s string) (int, rune) {
	for i, r := range s {
		if isInvisible(r) {
			return i, r
		}
	}
	return -1, 0
}

func stripInvisible(s string) string {
	if !HasInvisible(s) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if !isInvisible(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// suspiciousTokens tokenizes by [Letter|Mark|Number|_|-]+ and returns tokens
// mixing at least one Latin character with at least one confusable
// Cyrillic/Greek character.
func suspiciousTokens(s string) []string {
	var out []string
	var token []rune
	hasLatin, hasConf := false, false

	flush := func() {
		if len(token) > 0 && hasLatin && hasConf {
			out = append(out, string(token))
		}
		token = token[:0]
		hasLatin, hasConf = false, false
	}

	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsNumber(r) || r == '_' || r == '-' {
			token = append(token, r)
			if unicode.Is(unicode.Latin, r) {
				hasLatin = true
			}
			if isConfusable(r) {
				hasConf = true
			}
			continue
		}
		flush()
	}
	flush()
	return out
}

// collapseSeparators replaces runs of two or more of . _ - : / \ | with a
// single space. Single separators stay: "example.com" must survive.
func collapseSeparators(s string) string {
	isSep := func(r rune) bool {
		switch r {
		case '.', '_', '-', ':', '/', '\\', '|':
			return true
		}
		return false
	}

	var sb strings.Builder
	sb.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); {
		if isSep(runes[i]) {
			j := i
			for j < len(runes) && isSep(runes[j]) {
				j++
			}
			if j-i >= 2 {
				sb.WriteByte(' ')
			} else {
				sb.WriteRune(runes[i])
			}
			i = j
			continue
		}
		sb.WriteRune(runes[i])
		i++
	}
	return sb.String()
}

// collapseRepeats reduces any Latin letter repeated four or more times to a
// double letter ("iiiignore" → "iignore" stays catchable by the
// typoglycemia pass).
func collapseRepeats(s string) string {
	runes := []rune(s)
	var out []rune
	for i := 0; i < len(runes); {
		r := runes[i]
		j := i
		for j < len(runes) && runes[j] == r {
			j++
		}
		run := j - i
		if run >= 4 && isLatinLetter(r) {
			out = append(out, r, r)
		} else {
			for range run {
				out = append(out, r)
			}
		}
		i = j
	}
	return string(out)
}

func isLatinLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
