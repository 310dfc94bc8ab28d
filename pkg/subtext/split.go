package subtext

import (
	"regexp"
	"strconv"
	"strings"

	"tether/pkg/tether"
)

const reactionSeparator = "   "

var reactionPattern = regexp.MustCompile(`^([^\s×]+) ×(\d+)$`)

// ParseReactions reads a reaction tally line.
//
// Every segment must be a well-formed "emoji ×count" pair; a single bad
// segment rejects the whole line and nil is returned. A repeated emoji keeps
// its first position and its last count.
func ParseReactions(line string) []tether.MessageReaction {
	body, ok := strings.CutPrefix(line, Prefix)
	if !ok {
		return nil
	}

	var tally []tether.MessageReaction
	index := make(map[string]int)
	for _, segment := range strings.Split(body, reactionSeparator) {
		match := reactionPattern.FindStringSubmatch(segment)
		if match == nil {
			return nil
		}
		count, err := strconv.Atoi(match[2])
		if err != nil {
			return nil
		}
		if at, seen := index[match[1]]; seen {
			tally[at].Count = count
			continue
		}
		index[match[1]] = len(tally)
		tally = append(tally, tether.MessageReaction{Emoji: match[1], Count: count})
	}

	return tally
}

// FormatReactions renders a tally as one line body, without Prefix.
func FormatReactions(reactions []tether.MessageReaction) string {
	segments := make([]string, 0, len(reactions))
	for _, reaction := range reactions {
		if reaction.Emoji == "" || reaction.Count <= 0 {
			continue
		}
		segments = append(segments, reaction.Emoji+" ×"+strconv.Itoa(reaction.Count))
	}

	return strings.Join(segments, reactionSeparator)
}

// SplitSubtext is a moved message broken into its content, its reaction
// tally and its provenance line.
type SplitSubtext struct {
	// Content is everything above the subtext block.
	Content string
	// Reactions is the tally parsed from the line above the provenance line.
	Reactions []tether.MessageReaction

	provenance string
}

// Split separates text into content and subtext.
//
// text is assumed to be a moved message: its last line is taken as the
// provenance line unconditionally.
func Split(text string) *SplitSubtext {
	all := lines(text)
	if len(all) == 0 {
		return &SplitSubtext{}
	}

	split := &SplitSubtext{provenance: all[len(all)-1]}
	rest := all[:len(all)-1]
	if len(rest) == 0 {
		return split
	}
	if tally := ParseReactions(rest[len(rest)-1]); len(tally) > 0 {
		split.Reactions = tally
		rest = rest[:len(rest)-1]
	}
	split.Content = strings.Join(rest, "\n")

	return split
}

// Update records one more move. The provenance line gains a
// ", then from <channel> by <mover>" clause when moverID is set, and reactions
// are added to the tally.
func (s *SplitSubtext) Update(moverID, fromConversationID string, reactions []tether.MessageReaction) {
	if moverID != "" {
		s.provenance += ", then from " + ChannelMention(fromConversationID) + " by " + UserMention(moverID)
	}
	s.Reactions = mergeReactions(s.Reactions, reactions)
}

// Provenance returns the preserved provenance line.
func (s *SplitSubtext) Provenance() string {
	return s.provenance
}

// Subtext renders the reaction line, if any, above the provenance line.
func (s *SplitSubtext) Subtext() string {
	formatted := FormatReactions(s.Reactions)
	if formatted == "" {
		return s.provenance
	}

	return Prefix + formatted + "\n" + s.provenance
}

// String renders the full message: content followed by subtext.
func (s *SplitSubtext) String() string {
	if s.Content == "" {
		return s.Subtext()
	}

	return s.Content + "\n" + s.Subtext()
}

func mergeReactions(base, extra []tether.MessageReaction) []tether.MessageReaction {
	merged := append([]tether.MessageReaction(nil), base...)
	index := make(map[string]int, len(merged))
	for at, reaction := range merged {
		index[reaction.Emoji] = at
	}
	for _, reaction := range extra {
		if reaction.Emoji == "" {
			continue
		}
		if at, ok := index[reaction.Emoji]; ok {
			merged[at].Count += reaction.Count
			continue
		}
		index[reaction.Emoji] = len(merged)
		merged = append(merged, reaction)
	}

	return merged
}
