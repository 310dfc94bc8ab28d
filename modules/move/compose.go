package move

import (
	"time"
	"unicode/utf16"

	"tether/pkg/subtext"
	"tether/pkg/tether"
)

// maxMessageLength is the platform text limit in UTF-16 units.
const maxMessageLength = 4096

// moved is the text posted in the destination conversation.
type moved struct {
	Text     string
	Entities []tether.TextEntity
	// AuthorID is the author shown in the subtext, who may delete the copy.
	AuthorID string
}

// compose renders source as a moved message. A bot-posted source that
// already carries a subtext keeps its provenance line and gains one more hop;
// anything else, including user text that only looks like a subtext, gets a
// fresh subtext naming its author.
func compose(source tether.MessageSnapshot, fromConversationID, moverID string, now time.Time) moved {
	if authorID, ok := movedAuthor(source); ok {
		split := subtext.Split(source.Text)
		split.Update(moverID, fromConversationID, source.Reactions)

		return moved{
			Text:     split.String(),
			Entities: entitiesWithin(source.Entities, split.Content),
			AuthorID: authorID,
		}
	}

	skipped, closedPoll := 0, false
	for _, media := range source.Media {
		if media.Type == tether.MediaTypePoll && media.Closed {
			closedPoll = true
			continue
		}
		skipped++
	}
	block := subtext.New(subtext.Source{
		AuthorID:           source.Author.ID,
		ConversationID:     fromConversationID,
		CreatedAt:          source.CreatedAt,
		EditedAt:           source.EditedAt,
		Reactions:          source.Reactions,
		SkippedAttachments: skipped,
		ClosedPoll:         closedPoll,
	}, moverID, now).Format()

	text := block
	if source.Text != "" {
		text = source.Text + "\n" + block
	}

	return moved{
		Text:     text,
		Entities: entitiesWithin(source.Entities, source.Text),
		AuthorID: source.Author.ID,
	}
}

// movedAuthor returns the original author of a copy this bot posted.
func movedAuthor(source tether.MessageSnapshot) (string, bool) {
	if !source.Author.IsBot {
		return "", false
	}

	return subtext.DecodeAuthor(source.Text)
}

// entitiesWithin keeps the entities that lie entirely inside content, which
// is always a prefix of the composed text.
func entitiesWithin(entities []tether.TextEntity, content string) []tether.TextEntity {
	limit := utf16Len(content)
	var kept []tether.TextEntity
	for _, entity := range entities {
		if entity.Offset >= 0 && entity.Length > 0 && entity.Offset+entity.Length <= limit {
			kept = append(kept, entity)
		}
	}

	return kept
}

func utf16Len(value string) int {
	return len(utf16.Encode([]rune(value)))
}
