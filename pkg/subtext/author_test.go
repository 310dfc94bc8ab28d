package subtext

import (
	"strings"
	"testing"
)

func TestFindMention(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("7294857392283743", 16)
	tests := []struct {
		name    string
		content string
		kind    string
		wantID  string
		wantPos int
		wantOK  bool
	}{
		{name: "user at start", content: "<@1234123>", kind: "@", wantID: "1234123", wantPos: 0, wantOK: true},
		{name: "user after text", content: "foo <@1234123>", kind: "@", wantID: "1234123", wantPos: 4, wantOK: true},
		{name: "channel asked as user", content: "foo <#1234123>", kind: "@"},
		{name: "channel", content: "foo <#1234123>", kind: "#", wantID: "1234123", wantPos: 4, wantOK: true},
		{name: "unterminated first token", content: "lorem ipsum <*1234123 <#128381723>", kind: "#", wantID: "128381723", wantPos: 22, wantOK: true},
		{name: "two char kind", content: "join vc @ <#!12749128401294>", kind: "#!", wantID: "12749128401294", wantPos: 10, wantOK: true},
		{name: "two char kind asked as one", content: "join vc @ <#!12749128401294>!!", kind: "#"},
		{name: "bare id", content: "join vc @ <12749128401294> :D", kind: "", wantID: "12749128401294", wantPos: 10, wantOK: true},
		{name: "oversized id", content: "the quick brown fox <@" + long + "> jumps", kind: "@", wantID: long, wantPos: 20, wantOK: true},
		{name: "nested opener", content: "<@<@1234869>", kind: "@", wantID: "1234869", wantPos: 2, wantOK: true},
		{name: "no digits", content: "<@>", kind: "@"},
		{name: "empty brackets", content: "<>", kind: ""},
		{name: "empty", content: "", kind: "@"},
		{name: "plain text", content: "hi", kind: ""},
		{name: "inside code span", content: "`<@192849172497>`", kind: "@", wantID: "192849172497", wantPos: 1, wantOK: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			id, pos, ok := findMention(testCase.content, testCase.kind)
			if ok != testCase.wantOK || id != testCase.wantID || pos != testCase.wantPos {
				t.Fatalf("findMention(%q, %q) = (%q, %d, %v), want (%q, %d, %v)",
					testCase.content, testCase.kind, id, pos, ok,
					testCase.wantID, testCase.wantPos, testCase.wantOK)
			}
		})
	}
}

func TestDecodeAuthor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "author and move hint",
			content: "a\n-# Authored by <@665120188047556609> • " +
				"Moved from <#1281624935558807678> by <@665120188047556609>",
			want: "665120188047556609",
		},
		{
			name: "author with timestamp",
			content: "Scanned 1 open posts in <#1305317376346296321>.\n" +
				"-# Authored by <@1323096214735945738> on <t:1744888255> • " +
				"Moved from <#1324364626225266758> by <@665120188047556609>",
			want: "1323096214735945738",
		},
		{
			name: "author with edit time",
			content: "edit\n-# Authored by <@665120188047556609> on <t:1745489008> " +
				"(edited at <t:1745927179:t>) • Moved from <#1281624935558807678> " +
				"by <@665120188047556609>",
			want: "665120188047556609",
		},
		{name: "indented marker", content: "a\n -# Moved from <#1281624935558807678> by <@665120188047556609>"},
		{
			name: "timestamp without author",
			content: "Scanned 0 open posts in <#1305317376346296321>.\n-# <t:1744158570> • " +
				"Moved from <#1324364626225266758> by <@665120188047556609>",
		},
		{
			name: "attached content line above",
			content: "-# (content attached)\n-# Authored by <@665120188047556609> • " +
				"Moved from <#1281624935558807678> by <@665120188047556609>",
			want: "665120188047556609",
		},
		{name: "only mover", content: "-# (content attached)\n-# Moved from <#1281624935558807678> by <@665120188047556609>"},
		{name: "plain", content: "test"},
		{name: "empty", content: ""},
		{name: "single line only mover", content: "-# Moved from <#1281624935558807678> by <@665120188047556609>"},
		{name: "single line author", content: "-# Authored by <@665120188047556609>", want: "665120188047556609"},
		{name: "no marker", content: "Authored by <@665120188047556609>"},
		{name: "bare mention", content: "<@665120188047556609>"},
		{name: "marker without space", content: "-#<@665120188047556609>"},
		{name: "broken mention", content: "<@665120188047556609 go to <#1294988140645453834>"},
		{
			name: "mention not on last line",
			content: "-# <@252206453878685697> what are you doing in <#1337443701403815999> 👀\n" +
				"-# it's not ||[redacted]|| is it...?",
		},
		{name: "trailing newline", content: "body\n-# Authored by <@42>\n", want: "42"},
		{
			name:    "user text lookalike",
			content: "-# <@252206453878685697> what are you doing in <#1337443701403815999> 👀",
			want:    "252206453878685697",
		},
		{name: "user text mention", content: "-# <@665120188047556609> look at this!", want: "665120188047556609"},
		{name: "mention after word", content: "-# Oops <@665120188047556609>", want: "665120188047556609"},
		{name: "moved by only", content: "-# Moved by <@665120188047556609>", want: "665120188047556609"},
		{name: "code span", content: "-# Moved by `<@665120188047556609>`", want: "665120188047556609"},
		{name: "code block", content: "-# Authored by ```<@665120188047556609>```", want: "665120188047556609"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, ok := DecodeAuthor(testCase.content)
			if ok != (testCase.want != "") || got != testCase.want {
				t.Fatalf("DecodeAuthor(%q) = (%q, %v), want %q", testCase.content, got, ok, testCase.want)
			}
		})
	}
}
