package sanitize

import (
	"bytes"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// Markdowner converts scrubbed HTML to a Markdown dialect with ATX headings,
// fenced code blocks and "-" bullets. Safe for concurrent use.
type Markdowner struct {
	scrub *bluemonday.Policy
	conv  *converter.Converter
}

// NewMarkdowner builds the converter once; construction is not cheap.
func NewMarkdowner() *Markdowner {
	return &Markdowner{
		scrub: bluemonday.UGCPolicy(),
		// Commonmark defaults: ATX headings, fenced code blocks, "-" bullets.
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// ToMarkdown converts HTML to sanitized Markdown. The dangerous-markup
// policy is identical to ToText; what remains is scrubbed by bluemonday
// before conversion so no active markup survives into the output.
// If conversion produces nothing useful, the plain-text rendition is the
// fallback. maxChars <= 0 means no limit.
func (m *Markdowner) ToMarkdown(src, sourceURL string, maxChars int) Result {
	cleaned := dropDangerous(src)
	scrubbed := m.scrub.Sanitize(cleaned)

	md, err := m.conv.ConvertString(scrubbed, converter.WithDomain(sourceURL))
	if err != nil || strings.TrimSpace(md) == "" {
		return ToText(src, maxChars)
	}

	text := NormalizeWhitespace(StripControls(md))
	return clamp(text, maxChars)
}

// dropDangerous parses the HTML, removes comments and dangerous subtrees,
// and re-serializes. Parse failures fall back to the raw input; the
// bluemonday pass behind it still holds the line.
func dropDangerous(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}

	var prune func(*html.Node)
	prune = func(n *html.Node) {
		c := n.FirstChild
		for c != nil {
			next := c.NextSibling
			if c.Type == html.CommentNode || isDangerous(c) {
				n.RemoveChild(c)
			} else {
				prune(c)
			}
			c = next
		}
	}
	prune(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return src
	}
	return buf.String()
}
