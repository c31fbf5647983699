package scorer

import "regexp"

var (
	base64RunRe  = regexp.MustCompile(`[A-Za-z0-9+/]{32,}={0,2}`)
	hexRunRe     = regexp.MustCompile(`(?:[0-9a-f]{2}){12,}`)
	percentRunRe = regexp.MustCompile(`(?:%[0-9a-f]{2}){6,}`)
	uniEscRunRe  = regexp.MustCompile(`(?:\\u[0-9a-f]{4}){4,}`)
	byteEscRunRe = regexp.MustCompile(`(?:\\x[0-9a-f]{2}){4,}`)

	decodeContextRe = regexp.MustCompile(`(?i)\b(decode|deobfuscate|unpack|execute|run|ignore|bypass|instruction|prompt|shell|command)\b`)
)

// encodingSignals is the outcome of the encoded-payload analysis.
type encodingSignals struct {
	Score    int
	Flags    []string
	Evidence []EvidenceMatch
}

// detectEncoding scans the raw text for encoded payload runs and a decode
// instruction context, then scores the combination:
//
//	any payload            → encoded_payload_candidate, base 1
//	escape-family payload  → escape_sequence_obfuscation
//	decode context present → decode_instruction_context, +2
//	escape run count ≥ 2   → +1
//	base64+hex count ≥ 2   → +1
func detectEncoding(raw string) encodingSignals {
	var sig encodingSignals

	type family struct {
		re     *regexp.Regexp
		name   string
		escape bool
	}
	families := []family{
		{base64RunRe, "base64_run", false},
		{hexRunRe, "hex_run", false},
		{percentRunRe, "percent_escape_run", true},
		{uniEscRunRe, "unicode_escape_run", true},
		{byteEscRunRe, "byte_escape_run", true},
	}

	total := 0
	escapeCount := 0
	b64hexCount := 0
	escapeFamily := false
	var spans []EvidenceMatch

	for _, f := range families {
		locs := f.re.FindAllStringIndex(raw, -1)
		if len(locs) == 0 {
			continue
		}
		total += len(locs)
		if f.escape {
			escapeCount += len(locs)
			escapeFamily = true
		} else {
			b64hexCount += len(locs)
		}
		for _, loc := range locs {
			matched := raw[loc[0]:loc[1]]
			if len(matched) > 80 {
				matched = matched[:80]
			}
			spans = append(spans, EvidenceMatch{
				Flag:        FlagEncodedPayload,
				Detector:    DetectorEncoding,
				Basis:       BasisRaw,
				Start:       intPtr(loc[0]),
				End:         intPtr(loc[1]),
				MatchedText: matched,
				Excerpt:     excerptAround(raw, loc[0], loc[1], 40),
				Weight:      1,
				Notes:       f.name,
			})
		}
	}

	if total == 0 {
		return sig
	}

	sig.Flags = append(sig.Flags, FlagEncodedPayload)
	sig.Score = 1
	sig.Evidence = spans

	if escapeFamily {
		sig.Flags = append(sig.Flags, FlagEscapeObfuscation)
	}

	if loc := decodeContextRe.FindStringIndex(raw); loc != nil {
		sig.Flags = append(sig.Flags, FlagDecodeContext)
		sig.Score += 2
		sig.Evidence = append(sig.Evidence, EvidenceMatch{
			Flag:        FlagDecodeContext,
			Detector:    DetectorEncoding,
			Basis:       BasisRaw,
			Start:       intPtr(loc[0]),
			End:         intPtr(loc[1]),
			MatchedText: raw[loc[0]:loc[1]],
			Excerpt:     excerptAround(raw, loc[0], loc[1], 40),
			Weight:      2,
		})
	}

	if escapeCount >= 2 {
		sig.Score++
	}
	if b64hexCount >= 2 {
		sig.Score++
	}
	return sig
}
