// Package decision turns scorer output and domain policy into a single
// allow/block outcome with provenance.
//
// The engine is deterministic and total: every input combination lands on
// exactly one decision. Every block carries a classified blockedBy; an allow
// carries an allowedBy only for a bypass or a language exception.
package decision

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Waffleophagus/claw-rubber/policy"
)

// Decision is the verdict side of an outcome.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionBlock Decision = "block"
)

// BlockedBy classifies what produced a block.
type BlockedBy string

const (
	BlockedByDomainPolicy  BlockedBy = "domain-policy"
	BlockedByRuleThreshold BlockedBy = "rule-threshold"
	BlockedByFailClosed    BlockedBy = "fail-closed"
	BlockedByLLMJudge      BlockedBy = "llm-judge"
	BlockedByPolicy        BlockedBy = "policy"
)

// AllowedBy classifies what produced an allow; empty for ordinary allows.
type AllowedBy string

const (
	AllowedByDomainBypass      AllowedBy = "domain-allowlist-bypass"
	AllowedByLanguageException AllowedBy = "language-exception"
)

// Judgment is an adjudication verdict handed to the engine. Confidence is
// meaningful for the suspicious label only.
type Judgment struct {
	Label      string // benign | suspicious | malicious
	Confidence float64
}

// Flags attached by the engine itself.
const (
	FlagDomainBlocklist      = "domain_blocklist"
	FlagDomainAllowlistBypass = "domain_allowlist_bypass"
	flagJudgePrefix           = "llm_judge:"
)

// Input is everything the engine needs for one evaluation.
type Input struct {
	Score        int
	Flags        []string
	AllowSignals []string
	DomainAction policy.Action
	DomainReason string
	Judge        *Judgment // nil when no judge ran

	MediumThreshold int
	BlockThreshold  int
	FailClosed      bool
}

// Outcome is the engine's verdict with provenance.
type Outcome struct {
	Decision  Decision
	Score     int
	Flags     []string
	Reason    string
	Bypassed  bool
	BlockedBy BlockedBy // "" on allow
	AllowedBy AllowedBy // "" unless classified
}

// Evaluate runs the engine. The caller only consults the judge when the
// score sits in the medium band; the engine honors whatever it is handed.
func Evaluate(in Input) Outcome {
	// 1. Domain blocklist wins outright.
	if in.DomainAction == policy.ActionBlock {
		flags := appendUnique(slices.Clone(in.Flags), FlagDomainBlocklist)
		out := Outcome{
			Decision: DecisionBlock,
			Score:    in.Score,
			Flags:    flags,
			Reason:   in.DomainReason,
		}
		out.BlockedBy = classifyBlock(out, in)
		return out
	}

	// 2. Allowlist bypass: scoring is void.
	if in.DomainAction == policy.ActionAllowBypass {
		out := Outcome{
			Decision: DecisionAllow,
			Score:    0,
			Flags:    []string{FlagDomainAllowlistBypass},
			Reason:   in.DomainReason,
			Bypassed: true,
		}
		out.AllowedBy = classifyAllow(out, in)
		return out
	}

	// 3. Inspect: score and flags stand; judge verdict may append.
	score := in.Score
	flags := slices.Clone(in.Flags)
	if in.Judge != nil {
		flags = appendUnique(flags, flagJudgePrefix+in.Judge.Label)
		switch {
		case in.Judge.Label == "malicious":
			out := Outcome{
				Decision: DecisionBlock,
				Score:    score,
				Flags:    flags,
				Reason:   "LLM judge classified content as malicious",
			}
			out.BlockedBy = classifyBlock(out, in)
			return out
		case in.Judge.Label == "suspicious" && in.Judge.Confidence >= 0.75:
			out := Outcome{
				Decision: DecisionBlock,
				Score:    score,
				Flags:    flags,
				Reason:   fmt.Sprintf("LLM judge classified content as suspicious (confidence %.2f)", in.Judge.Confidence),
			}
			out.BlockedBy = classifyBlock(out, in)
			return out
		}
	}

	// 4. Hard threshold.
	if score >= in.BlockThreshold {
		out := Outcome{
			Decision: DecisionBlock,
			Score:    score,
			Flags:    flags,
			Reason:   fmt.Sprintf("Rule score %d ≥ block threshold %d", score, in.BlockThreshold),
		}
		out.BlockedBy = classifyBlock(out, in)
		return out
	}

	// 5. Fail-closed medium band.
	if in.FailClosed && score >= in.MediumThreshold {
		out := Outcome{
			Decision: DecisionBlock,
			Score:    score,
			Flags:    flags,
			Reason:   fmt.Sprintf("Fail-closed: rule score %d ≥ medium threshold %d", score, in.MediumThreshold),
		}
		out.BlockedBy = classifyBlock(out, in)
		return out
	}

	// 6. Allow.
	out := Outcome{
		Decision: DecisionAllow,
		Score:    score,
		Flags:    flags,
	}
	out.AllowedBy = classifyAllow(out, in)
	return out
}

// classifyBlock implements the blockedBy classifier.
func classifyBlock(out Outcome, in Input) BlockedBy {
	if in.DomainAction == policy.ActionBlock || slices.Contains(out.Flags, FlagDomainBlocklist) {
		return BlockedByDomainPolicy
	}
	if strings.HasPrefix(out.Reason, "Fail-closed:") {
		return BlockedByFailClosed
	}
	if strings.HasPrefix(out.Reason, "Rule score") {
		return BlockedByRuleThreshold
	}
	for _, f := range out.Flags {
		if strings.HasPrefix(f, flagJudgePrefix) {
			return BlockedByLLMJudge
		}
	}
	if strings.Contains(out.Reason, "LLM judge") {
		return BlockedByLLMJudge
	}
	return BlockedByPolicy
}

// classifyAllow implements the allowedBy classifier.
func classifyAllow(out Outcome, in Input) AllowedBy {
	if out.Bypassed {
		return AllowedByDomainBypass
	}
	if slices.Contains(in.AllowSignals, "language_exception") {
		return AllowedByLanguageException
	}
	return ""
}

func appendUnique(flags []string, flag string) []string {
	if slices.Contains(flags, flag) {
		return flags
	}
	return append(flags, flag)
}
