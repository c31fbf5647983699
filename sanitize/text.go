// Package sanitize turns untrusted HTML into safe plain text or Markdown.
//
// Both modes share the same dangerous-markup policy: comments and the
// contents of script, style, noscript, iframe, object, embed, svg, math,
// form, button, input, textarea and select are removed outright. Text mode
// then flattens everything; structured mode converts what remains to a
// Markdown dialect.
package sanitize

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Result is sanitized content plus the truncation marker.
type Result struct {
	Content   string
	Truncated bool
}

// dangerousAtoms lists elements removed inclusive of their contents.
var dangerousAtoms = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Svg:      true,
	atom.Form:     true,
	atom.Button:   true,
	atom.Input:    true,
	atom.Textarea: true,
	atom.Select:   true,
}

// dangerousNames covers elements matched by tag name rather than atom (math).
var dangerousNames = map[string]bool{
	"math": true,
}

func isDangerous(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if dangerousAtoms[n.DataAtom] {
		return true
	}
	return dangerousNames[strings.ToLower(n.Data)]
}

// blockAtoms are elements that terminate a text line when flattening.
var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Tr: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
	atom.Blockquote: true, atom.Pre: true, atom.Header: true, atom.Footer: true,
	atom.Nav: true, atom.Aside: true,
}

// ToText flattens HTML to sanitized plain text. maxChars <= 0 means no limit.
// The parser decodes entities; StripControls and NormalizeWhitespace apply
// the character policy afterwards.
func ToText(src string, maxChars int) Result {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		// The x/net parser recovers from almost anything; a hard error means
		// the input is not text at all. Treat it as empty.
		return Result{}
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.CommentNode:
			return
		case html.ElementNode:
			if isDangerous(n) {
				return
			}
			if n.DataAtom == atom.Br {
				sb.WriteByte('\n')
			}
		case html.TextNode:
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockAtoms[n.DataAtom] {
			sb.WriteString("\n\n")
		}
	}
	walk(doc)

	text := NormalizeWhitespace(StripControls(sb.String()))
	return clamp(text, maxChars)
}

// StripControls removes C0 control characters (except TAB and LF) and DEL.
func StripControls(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r == '\t' || r == '\n' {
			sb.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7F {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// NormalizeWhitespace strips CRs, collapses runs of spaces/tabs to one
// space, collapses runs of three or more newlines to two, and trims.
func NormalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r", "")

	var sb strings.Builder
	sb.Grow(len(s))
	spaceRun := false
	newlines := 0
	for _, r := range s {
		switch r {
		case ' ', '\t':
			spaceRun = true
		case '\n':
			spaceRun = false
			newlines++
		default:
			if newlines > 0 {
				if newlines > 2 {
					newlines = 2
				}
				for range newlines {
					sb.WriteByte('\n')
				}
				newlines = 0
			} else if spaceRun && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			spaceRun = false
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

// clamp slices content to maxChars runes and flags truncation.
func clamp(text string, maxChars int) Result {
	if maxChars <= 0 {
		return Result{Content: text}
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return Result{Content: text}
	}
	return Result{Content: string(runes[:maxChars]), Truncated: true}
}
