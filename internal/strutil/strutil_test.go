package strutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateUTF8(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		maxBytes int
		want     string
	}{
		{"empty input", "", 10, ""},
		{"zero budget", "hello", 0, ""},
		{"negative budget", "hello", -1, ""},
		{"ascii cut", "hello world", 5, "hello"},
		{"fits untouched", "short", 100, "short"},
		{"cjk mid-rune", "你好世界测试", 7, "你好"},
		{"emoji mid-rune", "ab🎉cd", 4, "ab"},
		{"exact rune boundary", "abc你", 6, "abc你"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TruncateUTF8(tc.in, tc.maxBytes)
			if got != tc.want {
				t.Fatalf("TruncateUTF8(%q, %d) = %q, want %q", tc.in, tc.maxBytes, got, tc.want)
			}
		})
	}
}

func TestTruncateUTF8_AlwaysValidUTF8(t *testing.T) {
	s := strings.Repeat("你好🎉世界", 200)
	for limit := 1; limit <= len(s); limit += 7 {
		got := TruncateUTF8(s, limit)
		if !utf8.ValidString(got) {
			t.Fatalf("invalid UTF-8 at limit=%d: %q", limit, got)
		}
		if len(got) > limit {
			t.Fatalf("too long at limit=%d: len=%d", limit, len(got))
		}
	}
}
