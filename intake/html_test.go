package intake

import (
	"strings"
	"testing"
)

func TestStripHTMLDropsMarkup(t *testing.T) {
	page := `<html>
<head><title>careers-portal</title><style>.x{color:red}</style>
<script>analytics("load");</script></head>
<body>
<h1>Platform   Engineer</h1>
<p>Acme Robotics builds warehouse robots.</p>
<ul><li>Go</li><li>Kubernetes</li></ul>
</body></html>`

	text := StripHTML([]byte(page))

	if !strings.Contains(text, "Platform Engineer") {
		t.Errorf("heading text missing: %q", text)
	}
	if !strings.Contains(text, "- Go") || !strings.Contains(text, "- Kubernetes") {
		t.Errorf("list items should keep markers: %q", text)
	}
	for _, banned := range []string{"careers-portal", "analytics", "color:red", "<h1>", "<li>"} {
		if strings.Contains(text, banned) {
			t.Errorf("%q should be stripped: %q", banned, text)
		}
	}
}

func TestStripHTMLLineBreaks(t *testing.T) {
	text := StripHTML([]byte("<p>first</p><p>second</p>line a<br>line b"))

	lines := strings.Split(text, "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %q", len(lines), lines)
	}
	if lines[0] != "first" || lines[3] != "line b" {
		t.Errorf("unexpected line split: %q", lines)
	}
}

func TestStripHTMLPlainText(t *testing.T) {
	text := StripHTML([]byte("Just a pasted\nposting   body"))

	if text != "Just a pasted\nposting body" {
		t.Errorf("plain text should pass through normalized, got %q", text)
	}
}

func TestStripHTMLEmpty(t *testing.T) {
	if got := StripHTML(nil); got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
	if got := StripHTML([]byte("<html><body><script>x()</script></body></html>")); got != "" {
		t.Errorf("script-only page should strip to nothing, got %q", got)
	}
}
