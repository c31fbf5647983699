// Package scorer assigns a deterministic risk score to sanitized text.
//
// Score is a pure function of (text, language extras): no I/O, no clock, and
// a total order on the evidence it returns. The policy engine turns the
// score into a decision; the scorer only measures.
package scorer

import (
	"fmt"

	"github.com/Waffleophagus/claw-rubber/normalize"
)

// Result is the scorer's verdict material.
type Result struct {
	Score         int
	Flags         []string // ordered set: first occurrence wins
	AllowSignals  []string // language_exception when the gate opens
	Evidence      []EvidenceMatch
	Normalization normalize.Result
}

// Scorer evaluates texts against the rules table. The zero value is not
// usable; construct with New.
type Scorer struct {
	langExtras []string
}

// New creates a Scorer. langExtras supplements the language-name dictionary
// consulted by the confusable exception gate.
func New(langExtras []string) *Scorer {
	return &Scorer{langExtras: langExtras}
}

// Score evaluates sanitized plain text.
func (s *Scorer) Score(text string) Result {
	var res Result
	flags := newFlagSet()

	// (a) Normalize.
	res.Normalization = normalize.Normalize(text)
	n := res.Normalization.Text

	// (b) Rules table.
	for _, rule := range rules {
		target := n
		basis := BasisNormalized
		if rule.Basis == BasisRaw {
			target = text
			basis = BasisRaw
		}
		loc := rule.Pattern.FindStringIndex(target)
		if loc == nil {
			continue
		}
		res.Score += rule.Weight
		flags.add(rule.ID)
		res.Evidence = append(res.Evidence, EvidenceMatch{
			Flag:        rule.ID,
			Detector:    DetectorRule,
			Basis:       basis,
			Start:       intPtr(loc[0]),
			End:         intPtr(loc[1]),
			MatchedText: target[loc[0]:loc[1]],
			Excerpt:     excerptAround(target, loc[0], loc[1], 40),
			Weight:      rule.Weight,
		})
	}

	// invisible_characters runs on the raw text via the detector, not a
	// pattern: the codepoints it hunts have no printable form.
	if off, r := normalize.FindInvisible(text); off >= 0 {
		res.Score += invisibleRuleWeight
		flags.add(FlagInvisibleCharacters)
		res.Evidence = append(res.Evidence, EvidenceMatch{
			Flag:        FlagInvisibleCharacters,
			Detector:    DetectorRule,
			Basis:       BasisRaw,
			Start:       intPtr(off),
			End:         intPtr(off + len(string(r))),
			MatchedText: fmt.Sprintf("%U", r),
			Excerpt:     excerptAround(text, off, off+len(string(r)), 40),
			Weight:      invisibleRuleWeight,
		})
	}

	// (c) Normalization signal weights. confusable_mixed_script is scored
	// later, under the language-exception coupling.
	for _, sig := range res.Normalization.SignalFlags {
		if sig == normalize.FlagInvisibleOrBidi {
			res.Score += 2
			flags.add(sig)
			res.Evidence = append(res.Evidence, EvidenceMatch{
				Flag:        sig,
				Detector:    DetectorNormalization,
				Basis:       BasisRaw,
				MatchedText: "",
				Excerpt:     "",
				Weight:      2,
				Notes:       "invisible or bidi control characters removed during normalization",
			})
		}
	}

	// (d) Typoglycemia.
	typos := detectTypoglycemia(n)
	if len(typos) > 0 {
		res.Score += typoglycemiaScore(len(typos))
		flags.add(FlagTypoglycemia)
		for _, m := range typos {
			flags.add("typoglycemia_keyword:" + m.Keyword)
			res.Evidence = append(res.Evidence, EvidenceMatch{
				Flag:        "typoglycemia_keyword:" + m.Keyword,
				Detector:    DetectorTypoglycemia,
				Basis:       BasisNormalized,
				Start:       intPtr(m.Start),
				End:         intPtr(m.End),
				MatchedText: m.Token,
				Excerpt:     excerptAround(n, m.Start, m.End, 40),
				Weight:      3,
				Notes:       "scrambled variant of " + m.Keyword,
			})
		}
	}

	// (e) Encoding signals over the raw text.
	enc := detectEncoding(text)
	res.Score += enc.Score
	for _, f := range enc.Flags {
		flags.add(f)
	}
	res.Evidence = append(res.Evidence, enc.Evidence...)

	// (f) Language-exception gate: only consulted when confusable mappings
	// actually applied.
	langListLike := false
	if res.Normalization.ConfusablesMapped > 0 {
		langListLike = detectLanguageList(text, s.langExtras).langListLike()
	}

	// (g) Confusable scoring coupling.
	if len(res.Normalization.SuspiciousTokens) > 0 && !langListLike && flags.anyIntent() {
		res.Score += 3
		flags.add(normalize.FlagConfusableMixedScript)
		for _, tok := range res.Normalization.SuspiciousTokens {
			res.Evidence = append(res.Evidence, EvidenceMatch{
				Flag:        normalize.FlagConfusableMixedScript,
				Detector:    DetectorNormalization,
				Basis:       BasisRaw,
				MatchedText: tok,
				Excerpt:     tok,
				Weight:      3,
				Notes:       "mixed Latin and Cyrillic/Greek script token",
			})
		}
	}
	if langListLike {
		res.AllowSignals = append(res.AllowSignals, FlagLanguageException)
	}

	// (h) Assemble.
	res.Flags = flags.ordered
	res.Evidence = finalizeEvidence(res.Evidence)
	return res
}

// flagSet keeps first-occurrence order with set semantics, and remembers
// whether any high-risk intent flag was added.
type flagSet struct {
	seen    map[string]bool
	ordered []string
	intent  bool
}

func newFlagSet() *flagSet {
	return &flagSet{seen: make(map[string]bool)}
}

func (f *flagSet) add(flag string) {
	if f.seen[flag] {
		return
	}
	f.seen[flag] = true
	f.ordered = append(f.ordered, flag)
	if highRiskIntentFlags[flag] {
		f.intent = true
	}
}

func (f *flagSet) anyIntent() bool { return f.intent }
