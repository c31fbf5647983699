package scorer

import (
	"sort"
)

// Detector identifies which subsystem produced an evidence match.
type Detector string

const (
	DetectorRule          Detector = "rule"
	DetectorEncoding      Detector = "encoding"
	DetectorTypoglycemia  Detector = "typoglycemia"
	DetectorNormalization Detector = "normalization"
)

// Basis says which text the offsets reference.
type Basis string

const (
	BasisRaw        Basis = "raw"
	BasisNormalized Basis = "normalized"
)

// EvidenceMatch records why a flag fired. Start/End are nil when the
// producing detector has no span (normalization signals).
type EvidenceMatch struct {
	Flag        string   `json:"flag"`
	Detector    Detector `json:"detector"`
	Basis       Basis    `json:"basis"`
	Start       *int     `json:"start,omitempty"`
	End         *int     `json:"end,omitempty"`
	MatchedText string   `json:"matched_text"`
	Excerpt     string   `json:"excerpt"`
	Weight      int      `json:"weight"`
	Notes       string   `json:"notes,omitempty"`
}

// maxEvidence caps the evidence list; everything beyond the 20 strongest
// matches is repetition.
const maxEvidence = 20

// finalizeEvidence deduplicates by (flag, detector, basis, start, end,
// matchedText), orders by descending weight (stable within equal weights),
// and caps the list.
func finalizeEvidence(matches []EvidenceMatch) []EvidenceMatch {
	type key struct {
		flag     string
		detector Detector
		basis    Basis
		start    int
		end      int
		hasSpan  bool
		text     string
	}
	seen := make(map[key]bool, len(matches))
	out := make([]EvidenceMatch, 0, len(matches))
	for _, m := range matches {
		k := key{flag: m.Flag, detector: m.Detector, basis: m.Basis, text: m.MatchedText}
		if m.Start != nil && m.End != nil {
			k.start, k.end, k.hasSpan = *m.Start, *m.End, true
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Weight > out[j].Weight
	})
	if len(out) > maxEvidence {
		out = out[:maxEvidence]
	}
	return out
}

// excerptAround returns up to pad characters of context on each side of
// [start,end) in s, clamped to rune boundaries.
func excerptAround(s string, start, end, pad int) string {
	if start < 0 || end > len(s) || start > end {
		return ""
	}
	lo := start - pad
	if lo < 0 {
		lo = 0
	}
	hi := end + pad
	if hi > len(s) {
		hi = len(s)
	}
	// Clamp to rune boundaries.
	for lo > 0 && lo < len(s) && (s[lo]&0xC0) == 0x80 {
		lo--
	}
	for hi < len(s) && (s[hi]&0xC0) == 0x80 {
		hi++
	}
	return s[lo:hi]
}

func intPtr(v int) *int { return &v }
