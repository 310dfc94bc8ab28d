package subtext

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Prefix marks every subtext line.
const Prefix = "-# "

const (
	mentionUser    = "@"
	mentionChannel = "#"
)

var mentionPattern = regexp.MustCompile(`<(\D{0,2})(\d+)>`)

// UserMention renders a user identity token.
func UserMention(id string) string {
	return "<" + mentionUser + id + ">"
}

// ChannelMention renders a conversation identity token.
func ChannelMention(id string) string {
	return "<" + mentionChannel + id + ">"
}

// Timestamp renders a time token, optionally with a display style such as "t".
func Timestamp(at time.Time, style string) string {
	unix := strconv.FormatInt(at.Unix(), 10)
	if style == "" {
		return "<t:" + unix + ">"
	}

	return "<t:" + unix + ":" + style + ">"
}

// findMention looks only at the first identity token in content and reports
// its id and byte offset when the token is of the given kind.
//
// Code spans are not considered, so a token inside backticks still counts.
func findMention(content, kind string) (string, int, bool) {
	loc := mentionPattern.FindStringSubmatchIndex(content)
	if loc == nil || content[loc[2]:loc[3]] != kind {
		return "", 0, false
	}

	return content[loc[4]:loc[5]], loc[0], true
}

// lines splits text the way a chat client displays it: a trailing newline
// does not start an empty line and CRLF counts as one break.
func lines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")

	return strings.Split(text, "\n")
}

func subJoin(parts ...string) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			formatted = append(formatted, Prefix+part)
		}
	}

	return strings.Join(formatted, "\n")
}
