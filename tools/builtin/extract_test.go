package builtin

import (
	"strings"
	"testing"
)

func TestExtractHTMLText(t *testing.T) {
	raw := `<!doctype html>
<html>
<head><title>ignored</title><style>p { color: red }</style></head>
<body>
<h1>Heading</h1>
<p>First paragraph.</p>
<script>var hidden = "should not appear";</script>
<ul><li>alpha</li><li>beta</li></ul>
</body>
</html>`

	text, err := extractHTMLText(raw)
	if err != nil {
		t.Fatalf("extractHTMLText: %v", err)
	}
	for _, want := range []string{"Heading", "First paragraph.", "alpha", "beta"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in extracted text, got:\n%s", want, text)
		}
	}
	for _, banned := range []string{"hidden", "color: red", "ignored"} {
		if strings.Contains(text, banned) {
			t.Fatalf("did not expect %q in extracted text, got:\n%s", banned, text)
		}
	}
}

func TestLooksLikeHTML(t *testing.T) {
	cases := []struct {
		name string
		ct   string
		body string
		want bool
	}{
		{"content_type", "text/html; charset=utf-8", "whatever", true},
		{"doctype_sniff", "", "<!DOCTYPE html><html></html>", true},
		{"html_sniff", "application/octet-stream", "<html><body></body></html>", true},
		{"json", "application/json", `{"a":1}`, false},
		{"plain", "text/plain", "just text", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := looksLikeHTML(tc.ct, tc.body); got != tc.want {
				t.Fatalf("looksLikeHTML(%q)=%v, want %v", tc.ct, got, tc.want)
			}
		})
	}
}
