package xkcd

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"

	"tether/pkg/reconcile"
	"tether/pkg/tether"
)

const (
	maxComics       = 10
	keptOnOverflow  = 9
	omissionNotice  = "Some XKCD comics were omitted."
	comicSeparator  = "\n\n"
	publishedLayout = "January 2, 2006"

	maxTranscriptMessage = 4096
	maxTranscriptRunes   = 3500
)

var mentionPattern = regexp.MustCompile(`(?i)\bxkcd#(\d+)`)

// Mentions returns the distinct comic numbers mentioned in text, in order of
// first appearance. More than maxComics mentions keep the first
// keptOnOverflow and report omitted.
func Mentions(text string) (numbers []int, omitted bool) {
	seen := make(map[int]struct{})
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		number, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if _, duplicate := seen[number]; duplicate {
			continue
		}
		seen[number] = struct{}{}
		numbers = append(numbers, number)
	}
	if len(numbers) > maxComics {
		return numbers[:keptOnOverflow], true
	}

	return numbers, false
}

// textBuilder accumulates text together with UTF-16 entity offsets.
type textBuilder struct {
	text     strings.Builder
	offset   int
	entities []tether.TextEntity
}

func (b *textBuilder) write(value string) {
	b.text.WriteString(value)
	b.offset += utf16Len(value)
}

func (b *textBuilder) writeEntity(value, entityType, url string) {
	length := utf16Len(value)
	if length > 0 {
		b.entities = append(b.entities, tether.TextEntity{Type: entityType, Offset: b.offset, Length: length, URL: url})
	}
	b.write(value)
}

func utf16Len(value string) int {
	return len(utf16.Encode([]rune(value)))
}

// render lays comics out one block each. Every block counts as one item,
// the omission notice included.
func render(comics []Comic, omitted bool, comicURL func(int) string) reconcile.Content {
	var builder textBuilder
	items := 0
	separate := func() {
		if items > 0 {
			builder.write(comicSeparator)
		}
		items++
	}

	for _, comic := range comics {
		separate()
		number := strconv.Itoa(comic.Number)
		switch comic.Status {
		case ComicFound:
			builder.writeEntity(comic.Title, "text_url", comicURL(comic.Number))
			builder.write(" (#" + number + ")\n")
			footer := comic.Alt
			if !comic.Published.IsZero() {
				footer += " • " + comic.Published.Format(publishedLayout)
			}
			builder.writeEntity(footer, "italic", "")
		case ComicMissing:
			builder.write("XKCD #" + number + " does not exist.")
		default:
			builder.write("Unable to fetch XKCD #" + number + ".")
		}
	}
	if omitted {
		separate()
		builder.writeEntity(omissionNotice, "italic", "")
	}

	return reconcile.Content{
		Text:     builder.text.String(),
		Entities: builder.entities,
		Items:    items,
	}
}

// renderTranscripts lays out the transcripts of comics that have one, up to
// maxTranscriptMessage UTF-16 units. Comics that no longer fit are left out.
func renderTranscripts(comics []Comic, comicURL func(int) string) (string, []tether.TextEntity) {
	var builder textBuilder
	for _, comic := range comics {
		if comic.Status != ComicFound || comic.Transcript == "" {
			continue
		}
		transcript := truncateRunes(comic.Transcript, maxTranscriptRunes)
		size := utf16Len(comic.Title) + utf16Len(transcript) + 1
		if builder.offset > 0 {
			size += utf16Len(comicSeparator)
		}
		if builder.offset+size > maxTranscriptMessage {
			break
		}
		if builder.offset > 0 {
			builder.write(comicSeparator)
		}
		builder.writeEntity(comic.Title, "text_url", comicURL(comic.Number))
		builder.write("\n" + transcript)
	}

	return builder.text.String(), builder.entities
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}

	return string(runes[:limit-1]) + "…"
}
