package scorer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// languageNames is the built-in dictionary: English names and autonyms as
// they appear in site language selectors. Entries are matched after NFKC
// and lowercasing; multi-word names match as 2–3 token phrases.
var languageNames = []string{
	// English names
	"english", "arabic", "bengali", "bulgarian", "catalan", "chinese",
	"croatian", "czech", "danish", "dutch", "estonian", "finnish", "french",
	"german", "greek", "hebrew", "hindi", "hungarian", "indonesian",
	"italian", "japanese", "korean", "latvian", "lithuanian", "malay",
	"norwegian", "persian", "polish", "portuguese", "romanian", "russian",
	"serbian", "slovak", "slovenian", "spanish", "swahili", "swedish",
	"tagalog", "thai", "turkish", "ukrainian", "urdu", "vietnamese",
	// Autonyms (Latin script)
	"afrikaans", "aragonés", "asturianu", "azərbaycanca", "bahasa indonesia",
	"bahasa melayu", "bosanski", "brezhoneg", "català", "cebuano", "čeština",
	"cymraeg", "dansk", "deutsch", "eesti", "español", "esperanto", "euskara",
	"føroyskt", "français", "frysk", "gaeilge", "gàidhlig", "galego",
	"hrvatski", "ido", "interlingua", "íslenska", "italiano", "jawa",
	"kiswahili", "kreyòl ayisyen", "kurdî", "latina", "latviešu", "lietuvių",
	"lombard", "magyar", "malti", "nederlands", "norsk", "norsk bokmål",
	"norsk nynorsk", "occitan", "oʻzbekcha", "plattdüütsch", "polski",
	"português", "română", "runa simi", "shqip", "sicilianu", "simple english",
	"slovenčina", "slovenščina", "srpskohrvatski", "suomi", "svenska",
	"tiếng việt", "türkçe", "türkmençe", "vèneto", "volapük",
	"winaray", "yorùbá",
	// Autonyms (non-Latin script)
	"العربية", "مصرى", "فارسی", "اردو", "עברית", "ייִדיש",
	"беларуская", "български", "македонски", "русский", "српски",
	"українська", "қазақша", "кыргызча", "монгол", "тоҷикӣ",
	"ελληνικά", "հայերեն", "ქართული",
	"हिन्दी", "বাংলা", "ગુજરાતી", "ਪੰਜਾਬੀ", "தமிழ்", "తెలుగు", "ಕನ್ನಡ",
	"മലയാളം", "मराठी", "नेपाली", "සිංහල",
	"中文", "日本語", "한국어", "ไทย", "ລາວ", "မြန်မာဘာသာ", "ភាសាខ្មែរ",
	"tatarça",
}

// languageCues are selector phrases that accompany a language list.
var languageCues = []string{
	"language", "languages", "langue", "langues", "sprache", "sprachen",
	"idioma", "idiomas", "lingua", "язык", "языки", "select language",
	"choose language",
}

// langListMetrics is what the detector measures over a text.
type langListMetrics struct {
	DistinctMatchCount int
	MatchedTokens      int
	TotalTokens        int
	MatchedTokenRatio  float64
	ListSeparatorCount int
	HasLanguageCue     bool
}

// langListLike applies the classification formula.
func (m langListMetrics) langListLike() bool {
	if m.DistinctMatchCount >= 4 && m.MatchedTokens >= 5 && m.MatchedTokenRatio >= 0.45 &&
		(m.ListSeparatorCount >= 2 || m.MatchedTokenRatio >= 0.7 || m.HasLanguageCue) {
		return true
	}
	return m.DistinctMatchCount >= 8 && m.MatchedTokens >= 8 && m.MatchedTokenRatio >= 0.35
}

// detectLanguageList measures how much of raw reads as a list of language
// names. extras supplements the dictionary; entries are NFKC-lowercased and
// ignored outside 2..80 chars.
func detectLanguageList(raw string, extras []string) langListMetrics {
	dict := make(map[string]bool, len(languageNames)+len(extras))
	for _, n := range languageNames {
		dict[n] = true
	}
	for _, e := range extras {
		e = strings.ToLower(norm.NFKC.String(strings.TrimSpace(e)))
		if n := len([]rune(e)); n >= 2 && n <= 80 {
			dict[e] = true
		}
	}

	cues := make(map[string]bool, len(languageCues))
	for _, c := range languageCues {
		cues[c] = true
	}

	tokens := letterTokens(raw)
	m := langListMetrics{TotalTokens: len(tokens)}
	if len(tokens) == 0 {
		m.ListSeparatorCount = countListSeparators(raw)
		return m
	}

	distinct := make(map[string]bool)
	for i := 0; i < len(tokens); {
		matched := 0
		// Greedy: longest phrase first.
		for n := 3; n >= 1; n-- {
			if i+n > len(tokens) {
				continue
			}
			phrase := strings.Join(tokens[i:i+n], " ")
			if dict[phrase] {
				distinct[phrase] = true
				m.MatchedTokens += n
				matched = n
				break
			}
		}
		if matched == 0 {
			if cues[tokens[i]] || (i+1 < len(tokens) && cues[tokens[i]+" "+tokens[i+1]]) {
				m.HasLanguageCue = true
			}
			i++
			continue
		}
		i += matched
	}

	m.DistinctMatchCount = len(distinct)
	m.MatchedTokenRatio = float64(m.MatchedTokens) / float64(m.TotalTokens)
	m.ListSeparatorCount = countListSeparators(raw)
	return m
}

// letterTokens splits raw into NFKC-lowercased runs of letters and marks.
func letterTokens(raw string) []string {
	folded := strings.ToLower(norm.NFKC.String(raw))
	var tokens []string
	var cur []rune
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsMark(r) {
			cur = append(cur, r)
			continue
		}
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = nil
		}
	}
	if len(cur) > 0 {
		tokens = append(tokens, string(cur))
	}
	return tokens
}

// countListSeparators counts explicit list punctuation.
func countListSeparators(raw string) int {
	n := 0
	for _, r := range raw {
		switch r {
		case ',', ';', '|', '·', '•':
			n++
		}
	}
	return n
}
