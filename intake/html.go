package intake

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// blockTags start and end a line of output when stripping markup.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"header": true, "footer": true, "main": true, "aside": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "table": true, "tr": true, "blockquote": true,
}

// skipTags subtrees carry no posting text.
var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"head": true, "template": true, "iframe": true, "svg": true,
}

// StripHTML reduces a fetched posting page to readable text. Script,
// style and head content is dropped, block elements become line breaks
// and list items keep a leading marker so requirement lists survive the
// conversion.
func StripHTML(data []byte) string {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		// html.Parse recovers from almost any input; keep the raw bytes
		// as a last resort rather than losing the posting.
		return strings.TrimSpace(string(data))
	}

	var b strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch {
			case skipTags[n.Data]:
				return
			case n.Data == "br":
				b.WriteString("\n")
			case n.Data == "li":
				b.WriteString("\n- ")
			case blockTags[n.Data]:
				b.WriteString("\n")
			}
		case html.TextNode:
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && (n.Data == "li" || blockTags[n.Data]) {
			b.WriteString("\n")
		}
	}

	walk(doc)

	return collapseLines(b.String())
}

// collapseLines normalizes intra-line whitespace and drops empty lines.
func collapseLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
