package scorer

import "regexp"

// Rule is one entry of the injection rules table. The table is data so
// adjusting weights or patterns never touches engine code.
type Rule struct {
	ID      string
	Weight  int
	Basis   Basis // which text the pattern runs against
	Pattern *regexp.Regexp
}

// Flag names emitted by non-rule detectors.
const (
	FlagTypoglycemia        = "typoglycemia_high_risk_keyword"
	FlagEncodedPayload      = "encoded_payload_candidate"
	FlagEscapeObfuscation   = "escape_sequence_obfuscation"
	FlagDecodeContext       = "decode_instruction_context"
	FlagLanguageException   = "language_exception"
	FlagInvisibleCharacters = "invisible_characters"
)

// rules is the canonical rule set. Patterns run case-insensitively; gaps are
// bounded so two related phrases only combine when they are actually near
// each other (40/30/20 chars depending on how tight the idiom is).
var rules = []Rule{
	{
		ID: "instruction_override", Weight: 4, Basis: BasisNormalized,
		Pattern: regexp.MustCompile(`(?is)\b(ignore|disregard|override)\b.{0,40}\b(previous|prior|all)\b.{0,40}\b(instructions?|prompts?|rules?)\b`),
	},
	{
		ID: "role_hijack", Weight: 3, Basis: BasisNormalized,
		Pattern: regexp.MustCompile(`(?is)\b(you are now|act as|pretend to be)\b.{0,30}\b(system|developer|administrator|root)\b`),
	},
	{
		ID: "prompt_exfiltration", Weight: 4, Basis: BasisNormalized,
		Pattern: regexp.MustCompile(`(?is)\b(show|reveal|print|leak|expose)\b.{0,40}\b(system prompt|developer message|hidden instructions?)\b`),
	},
	{
		ID: "secret_exfiltration", Weight: 5, Basis: BasisNormalized,
		Pattern: regexp.MustCompile(`(?is)\b(api keys?|access tokens?|secrets?|passwords?|private keys?)\b.{0,40}\b(send|share|output|return|dump)\b`),
	},
	{
		ID: "tool_abuse", Weight: 3, Basis: BasisNormalized,
		Pattern: regexp.MustCompile(`(?is)\b(run|execute|invoke|call)\b.{0,30}\b(shell|commands?|tools?|curl|wget|powershell)\b`),
	},
	{
		ID: "encoding_obfuscation", Weight: 2, Basis: BasisNormalized,
		Pattern: regexp.MustCompile(`(?is)\b(base64|hex|rot13|decode this|obfuscated)\b`),
	},
	{
		ID: "jailbreak_marker", Weight: 4, Basis: BasisNormalized,
		Pattern: regexp.MustCompile(`(?is)(do not follow safety|bypass safeguards|jailbreak|developer mode|dan mode)`),
	},
	{
		ID: "urgent_manipulation", Weight: 2, Basis: BasisNormalized,
		Pattern: regexp.MustCompile(`(?is)\b(urgent|immediately|do this now)\b.{0,20}\b(ignore|bypass|disable)\b`),
	},
}

// invisibleRuleWeight is the weight of the raw-basis invisible_characters
// rule; it is detector-based rather than pattern-based.
const invisibleRuleWeight = 2

// highRiskIntentFlags is the intent set consulted by the confusable
// scoring coupling.
var highRiskIntentFlags = map[string]bool{
	"instruction_override": true,
	"role_hijack":          true,
	"prompt_exfiltration":  true,
	"secret_exfiltration":  true,
	"tool_abuse":           true,
	"jailbreak_marker":     true,
	"urgent_manipulation":  true,
	FlagTypoglycemia:       true,
	FlagDecodeContext:      true,
}
