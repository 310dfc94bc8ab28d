package subtext

import "strings"

// DecodeAuthor recovers the author id stored in the subtext of text.
//
// The last line must carry Prefix. A "moved from" channel token and anything
// after it is cut first so the mover is never taken for the author; the
// first remaining token must then be a user mention. Ordinary text that
// happens to look like subtext can match.
func DecodeAuthor(text string) (string, bool) {
	all := lines(text)
	if len(all) == 0 {
		return "", false
	}
	last := all[len(all)-1]
	if !strings.HasPrefix(last, Prefix) {
		return "", false
	}

	if _, pos, ok := findMention(last, mentionChannel); ok {
		last = last[:pos]
	}
	id, _, ok := findMention(last, mentionUser)

	return id, ok
}

// IsMoved reports whether text carries a decodable author subtext.
func IsMoved(text string) bool {
	_, ok := DecodeAuthor(text)
	return ok
}
