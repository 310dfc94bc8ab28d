// Package subtext encodes provenance into the trailing lines of a message.
//
// A subtext block is one or two lines starting with Prefix: an optional
// reaction tally, then a composite line naming the original author and, for
// moved messages, where the message came from and who moved it. The block is
// plain message text, so it survives without any external storage.
package subtext

import (
	"strconv"
	"strings"
	"time"

	"tether/pkg/tether"
)

// TimestampThreshold is the age above which the original creation time is
// spelled out.
const TimestampThreshold = 12 * time.Hour

const partSeparator = " • "

// Source is the message a subtext describes.
type Source struct {
	// AuthorID is the original author.
	AuthorID string
	// ConversationID is where the message lived before the move.
	ConversationID string
	// CreatedAt is the original creation time.
	CreatedAt time.Time
	// EditedAt is the last edit time, if any.
	EditedAt time.Time
	// Reactions is the tally carried over from the source.
	Reactions []tether.MessageReaction
	// SkippedAttachments counts attachments that could not be copied.
	SkippedAttachments int
	// ClosedPoll reports a poll that could not be recreated.
	ClosedPoll bool
}

// Subtext is the set of rendered parts that make up one block.
type Subtext struct {
	Reactions string
	Author    string
	Timestamp string
	Skipped   string
	PollError string
	MoveHint  string
}

// New renders the parts for src. moverID, when set, adds a move hint naming
// src.ConversationID. now decides whether the creation time is shown.
func New(src Source, moverID string, now time.Time) Subtext {
	sub := Subtext{
		Reactions: FormatReactions(src.Reactions),
		Author:    "Authored by " + UserMention(src.AuthorID),
		Skipped:   FormatSkipped(src.SkippedAttachments),
	}
	if !src.CreatedAt.IsZero() && !src.CreatedAt.After(now.Add(-TimestampThreshold)) {
		sub.Timestamp = Timestamp(src.CreatedAt, "")
		if !src.EditedAt.IsZero() {
			sub.Timestamp += " (edited at " + Timestamp(src.EditedAt, "t") + ")"
		}
	}
	if src.ClosedPoll {
		sub.PollError = "Unable to attach closed poll"
	}
	if moverID != "" {
		sub.MoveHint = "Moved from " + ChannelMention(src.ConversationID) + " by " + UserMention(moverID)
	}

	return sub
}

// Encode renders a block for author with an optional move hint.
func Encode(authorID string, reactions []tether.MessageReaction, moverID, fromConversationID string) string {
	return New(Source{
		AuthorID:       authorID,
		ConversationID: fromConversationID,
		Reactions:      reactions,
	}, moverID, time.Time{}).Format()
}

// FormatSkipped renders the skipped-attachments notice, or "" for zero.
func FormatSkipped(skipped int) string {
	if skipped <= 0 {
		return ""
	}
	noun := "attachment"
	if skipped != 1 {
		noun += "s"
	}

	return "Skipped " + strconv.Itoa(skipped) + " large " + noun
}

// Format renders the reaction line followed by the composite line.
func (s Subtext) Format() string {
	attribution := s.Author
	if s.Author != "" && s.Timestamp != "" {
		attribution += " on " + s.Timestamp
	}

	var parts []string
	for _, part := range []string{attribution, s.Skipped, s.PollError, s.MoveHint} {
		if part != "" {
			parts = append(parts, part)
		}
	}

	return subJoin(s.Reactions, strings.Join(parts, partSeparator))
}

// FormatSimple renders only reactions and notices, for messages whose
// author is shown by other means.
func (s Subtext) FormatSimple() string {
	return subJoin(s.Reactions, s.Skipped, s.PollError)
}
