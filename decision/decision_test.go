package decision

import (
	"slices"
	"testing"

	"github.com/Waffleophagus/claw-rubber/policy"
)

func strictInput() Input {
	return Input{
		DomainAction:    policy.ActionInspect,
		MediumThreshold: 6,
		BlockThreshold:  10,
		FailClosed:      true,
	}
}

func TestEvaluate_DomainBlock(t *testing.T) {
	// WHAT: domainAction=block blocks with the domain reason and flag.
	in := strictInput()
	in.Score = 0
	in.DomainAction = policy.ActionBlock
	in.DomainReason = "Domain matched blocklist rule: evil.example"

	out := Evaluate(in)
	if out.Decision != DecisionBlock {
		t.Fatalf("decision = %s", out.Decision)
	}
	if out.Reason != in.DomainReason {
		t.Errorf("reason = %q", out.Reason)
	}
	if !slices.Contains(out.Flags, FlagDomainBlocklist) {
		t.Errorf("missing domain_blocklist flag: %v", out.Flags)
	}
	if out.BlockedBy != BlockedByDomainPolicy {
		t.Errorf("blockedBy = %s, want domain-policy", out.BlockedBy)
	}
}

func TestEvaluate_AllowBypass(t *testing.T) {
	// WHAT: Allowlist bypass zeroes the score and carries only the bypass flag.
	in := strictInput()
	in.Score = 99
	in.Flags = []string{"instruction_override"}
	in.DomainAction = policy.ActionAllowBypass
	in.DomainReason = "Domain matched allowlist rule: docs.example"

	out := Evaluate(in)
	if out.Decision != DecisionAllow || !out.Bypassed {
		t.Fatalf("got %+v, want bypassed allow", out)
	}
	if out.Score != 0 {
		t.Errorf("score = %d, want 0", out.Score)
	}
	if len(out.Flags) != 1 || out.Flags[0] != FlagDomainAllowlistBypass {
		t.Errorf("flags = %v", out.Flags)
	}
	if out.AllowedBy != AllowedByDomainBypass {
		t.Errorf("allowedBy = %s", out.AllowedBy)
	}
}

func TestEvaluate_BlockThreshold(t *testing.T) {
	in := strictInput()
	in.Score = 10
	out := Evaluate(in)
	if out.Decision != DecisionBlock || out.BlockedBy != BlockedByRuleThreshold {
		t.Errorf("got %+v, want rule-threshold block", out)
	}
	if out.Reason != "Rule score 10 ≥ block threshold 10" {
		t.Errorf("reason = %q", out.Reason)
	}
}

func TestEvaluate_FailClosed(t *testing.T) {
	// WHAT: Medium-band scores block when failClosed, allow when not.
	in := strictInput()
	in.Score = 7
	out := Evaluate(in)
	if out.Decision != DecisionBlock || out.BlockedBy != BlockedByFailClosed {
		t.Errorf("got %+v, want fail-closed block", out)
	}

	in.FailClosed = false
	out = Evaluate(in)
	if out.Decision != DecisionAllow {
		t.Errorf("got %+v, want allow without fail-closed", out)
	}
	if out.AllowedBy != "" {
		t.Errorf("allowedBy = %q, want empty for ordinary allow", out.AllowedBy)
	}
}

func TestEvaluate_FailClosedMonotonic(t *testing.T) {
	// WHAT: With failClosed, increasing the score never flips block → allow.
	in := strictInput()
	blocked := false
	for score := 0; score <= 30; score++ {
		in.Score = score
		out := Evaluate(in)
		if blocked && out.Decision == DecisionAllow {
			t.Fatalf("score %d allowed after a lower score blocked", score)
		}
		if out.Decision == DecisionBlock {
			blocked = true
		}
	}
}

func TestEvaluate_JudgeMalicious(t *testing.T) {
	in := strictInput()
	in.Score = 7
	in.FailClosed = false
	in.Judge = &Judgment{Label: "malicious", Confidence: 0.5}
	out := Evaluate(in)
	if out.Decision != DecisionBlock || out.BlockedBy != BlockedByLLMJudge {
		t.Errorf("got %+v, want llm-judge block", out)
	}
	if !slices.Contains(out.Flags, "llm_judge:malicious") {
		t.Errorf("missing judge flag: %v", out.Flags)
	}
}

func TestEvaluate_JudgeSuspiciousConfidence(t *testing.T) {
	// WHAT: suspicious blocks only at confidence ≥ 0.75.
	in := strictInput()
	in.Score = 7
	in.FailClosed = false

	in.Judge = &Judgment{Label: "suspicious", Confidence: 0.74}
	if out := Evaluate(in); out.Decision != DecisionAllow {
		t.Errorf("low-confidence suspicious should allow, got %+v", out)
	}

	in.Judge = &Judgment{Label: "suspicious", Confidence: 0.75}
	if out := Evaluate(in); out.Decision != DecisionBlock || out.BlockedBy != BlockedByLLMJudge {
		t.Errorf("got %+v, want llm-judge block", out)
	}
}

func TestEvaluate_JudgeBenignStillThresholded(t *testing.T) {
	// WHAT: A benign judge verdict does not rescue a score over the block line.
	in := strictInput()
	in.Score = 12
	in.Judge = &Judgment{Label: "benign"}
	out := Evaluate(in)
	if out.Decision != DecisionBlock || out.BlockedBy != BlockedByRuleThreshold {
		t.Errorf("got %+v, want rule-threshold block", out)
	}
	if !slices.Contains(out.Flags, "llm_judge:benign") {
		t.Errorf("judge flag should still be appended: %v", out.Flags)
	}
}

func TestEvaluate_LanguageExceptionAllow(t *testing.T) {
	in := strictInput()
	in.Score = 0
	in.AllowSignals = []string{"language_exception"}
	out := Evaluate(in)
	if out.Decision != DecisionAllow || out.AllowedBy != AllowedByLanguageException {
		t.Errorf("got %+v, want language-exception allow", out)
	}
}
