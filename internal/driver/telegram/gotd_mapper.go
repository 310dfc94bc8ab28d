package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tether/pkg/tether"

	"github.com/gotd/td/tg"
)

// DefaultGotdUpdateMapper maps gotd updates into adapter DTO updates.
type DefaultGotdUpdateMapper struct {
	peerCache *PeerCache
}

// GotdUpdateMapperOption mutates DefaultGotdUpdateMapper behavior.
type GotdUpdateMapperOption func(*DefaultGotdUpdateMapper)

// WithPeerCache records entity-derived peer mappings for outbound dispatch.
func WithPeerCache(cache *PeerCache) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if cache != nil {
			mapper.peerCache = cache
		}
	}
}

// NewDefaultGotdUpdateMapper creates the default gotd mapper.
func NewDefaultGotdUpdateMapper(options ...GotdUpdateMapperOption) DefaultGotdUpdateMapper {
	mapper := DefaultGotdUpdateMapper{}
	for _, option := range options {
		option(&mapper)
	}

	return mapper
}

// Map converts a gotd raw update value into an adapter update.
//
// The accepted flag is false for update classes the bot does not consume.
func (m DefaultGotdUpdateMapper) Map(ctx context.Context, raw any) (Update, bool, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, false, fmt.Errorf("map gotd update context: %w", err)
	}

	envelope, err := normalizeGotdRaw(raw)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd raw update: %w", err)
	}
	m.peerCache.RememberEnvelope(envelope)

	switch update := envelope.update.(type) {
	case *tg.UpdateNewMessage:
		return m.mapNewMessage(update.Message, envelope)
	case *tg.UpdateNewChannelMessage:
		return m.mapNewMessage(update.Message, envelope)
	case *tg.UpdateEditMessage:
		return m.mapEditMessage(update.Message, envelope)
	case *tg.UpdateEditChannelMessage:
		return m.mapEditMessage(update.Message, envelope)
	case *tg.UpdateDeleteMessages:
		return mapDelete(ChatRef{}, update.Messages, envelope)
	case *tg.UpdateDeleteChannelMessages:
		return mapDelete(resolveChatByChannelID(update.ChannelID, envelope), update.Messages, envelope)
	case *tg.UpdateBotCallbackQuery:
		return m.mapBotCallback(update, envelope)
	case *tg.UpdateMessageReactions:
		return mapReactions(update.Peer, update.MsgID, update.Reactions.Results, envelope)
	case *tg.UpdateBotMessageReactions:
		return mapReactions(update.Peer, update.MsgID, update.Reactions, envelope)
	default:
		return Update{}, false, nil
	}
}

func normalizeGotdRaw(raw any) (gotdUpdateEnvelope, error) {
	switch typed := raw.(type) {
	case gotdUpdateEnvelope:
		return typed, nil
	case tg.UpdateClass:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil update class")
		}
		return gotdUpdateEnvelope{
			update:      typed,
			occurredAt:  time.Now().UTC(),
			updateClass: typed.TypeName(),
		}, nil
	default:
		return gotdUpdateEnvelope{}, fmt.Errorf("unsupported raw type %T", raw)
	}
}

func (m DefaultGotdUpdateMapper) mapNewMessage(message tg.MessageClass, envelope gotdUpdateEnvelope) (Update, bool, error) {
	typed, ok := message.(*tg.Message)
	if !ok {
		return Update{}, false, nil
	}

	chat := resolveChatFromPeer(typed.PeerID, envelope)
	payload := mapMessagePayload(typed)
	m.peerCache.RememberConversation(chat, resolveInputPeerFromPeer(typed.PeerID, envelope))

	return Update{
		Type:       UpdateTypeMessage,
		OccurredAt: firstNonZeroTime(payload.CreatedAt, envelope.occurredAt),
		Chat:       chat,
		Actor:      resolveMessageAuthor(typed, envelope),
		Message:    &payload,
		Metadata:   newGotdMetadata(envelope),
	}, true, nil
}

func (m DefaultGotdUpdateMapper) mapEditMessage(message tg.MessageClass, envelope gotdUpdateEnvelope) (Update, bool, error) {
	typed, ok := message.(*tg.Message)
	if !ok {
		return Update{}, false, nil
	}

	chat := resolveChatFromPeer(typed.PeerID, envelope)
	payload := mapMessagePayload(typed)
	m.peerCache.RememberConversation(chat, resolveInputPeerFromPeer(typed.PeerID, envelope))

	return Update{
		Type:       UpdateTypeEdit,
		OccurredAt: firstNonZeroTime(payload.EditedAt, envelope.occurredAt),
		Chat:       chat,
		Actor:      resolveMessageAuthor(typed, envelope),
		Edit:       &EditPayload{Message: payload},
		Metadata:   newGotdMetadata(envelope),
	}, true, nil
}

// mapDelete maps one flattened deletion. Chat is empty for non-channel peers,
// where Telegram does not say which chat the message belonged to.
func mapDelete(chat ChatRef, messages []int, envelope gotdUpdateEnvelope) (Update, bool, error) {
	if len(messages) == 0 {
		return Update{}, false, nil
	}

	return Update{
		Type:       UpdateTypeDelete,
		OccurredAt: firstNonZeroTime(envelope.occurredAt, time.Now().UTC()),
		Chat:       chat,
		Delete:     &DeletePayload{MessageID: strconv.Itoa(messages[0])},
		Metadata:   newGotdMetadata(envelope),
	}, true, nil
}

func (m DefaultGotdUpdateMapper) mapBotCallback(
	update *tg.UpdateBotCallbackQuery,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	chat := resolveChatFromPeer(update.Peer, envelope)
	m.peerCache.RememberConversation(chat, resolveInputPeerFromPeer(update.Peer, envelope))

	data, _ := update.GetData()

	return Update{
		Type:       UpdateTypeCallback,
		OccurredAt: firstNonZeroTime(envelope.occurredAt, time.Now().UTC()),
		Chat:       chat,
		Actor:      resolveActorByUserID(update.UserID, envelope),
		Callback: &CallbackPayload{
			QueryID:   strconv.FormatInt(update.QueryID, 10),
			MessageID: strconv.Itoa(update.MsgID),
			Data:      string(data),
		},
		Metadata: newGotdMetadata(envelope),
	}, true, nil
}

func mapReactions(
	peer tg.PeerClass,
	messageID int,
	results []tg.ReactionCount,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	return Update{
		Type:       UpdateTypeReactions,
		OccurredAt: firstNonZeroTime(envelope.occurredAt, time.Now().UTC()),
		Chat:       resolveChatFromPeer(peer, envelope),
		Reactions: &ReactionsPayload{
			MessageID: strconv.Itoa(messageID),
			Reactions: mapReactionCounts(results),
		},
		Metadata: newGotdMetadata(envelope),
	}, true, nil
}

func mapMessagePayload(message *tg.Message) MessagePayload {
	payload := MessagePayload{
		ID:        strconv.Itoa(message.ID),
		Text:      message.Message,
		Entities:  mapTextEntities(message.Entities),
		Media:     mapMessageMedia(message.Media),
		CreatedAt: intToTimeUTC(message.Date),
	}
	if editDate, ok := message.GetEditDate(); ok {
		payload.EditedAt = intToTimeUTC(editDate)
	}
	if reactions, ok := message.GetReactions(); ok {
		payload.Reactions = mapReactionCounts(reactions.Results)
	}
	if replyTo, ok := message.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if replyToMessageID, ok := header.GetReplyToMsgID(); ok {
				payload.ReplyToID = strconv.Itoa(replyToMessageID)
			}
		}
	}

	return payload
}

func resolveMessageAuthor(message *tg.Message, envelope gotdUpdateEnvelope) ActorRef {
	if message.FromID != nil {
		return resolveActorFromPeer(message.FromID, envelope)
	}

	return resolveActorFromPeer(message.PeerID, envelope)
}

type gotdChatInfo struct {
	title     string
	kind      tether.ConversationType
	inputPeer tg.InputPeerClass
}

func indexGotdUsers(users []tg.UserClass) map[int64]*tg.User {
	if len(users) == 0 {
		return nil
	}

	out := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		notEmpty, ok := user.AsNotEmpty()
		if !ok || notEmpty == nil {
			continue
		}
		out[notEmpty.ID] = notEmpty
	}

	return out
}

func indexGotdChats(chats []tg.ChatClass) map[int64]gotdChatInfo {
	if len(chats) == 0 {
		return nil
	}

	out := make(map[int64]gotdChatInfo, len(chats))
	for _, chat := range chats {
		switch typed := chat.(type) {
		case *tg.Chat:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      tether.ConversationTypeGroup,
				inputPeer: typed.AsInputPeer(),
			}
		case *tg.ChatForbidden:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      tether.ConversationTypeGroup,
				inputPeer: &tg.InputPeerChat{ChatID: typed.ID},
			}
		case *tg.Channel:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      channelKind(typed.Megagroup),
				inputPeer: typed.AsInputPeer(),
			}
		case *tg.ChannelForbidden:
			out[typed.ID] = gotdChatInfo{
				title: typed.Title,
				kind:  channelKind(typed.Megagroup),
				inputPeer: &tg.InputPeerChannel{
					ChannelID:  typed.ID,
					AccessHash: typed.AccessHash,
				},
			}
		}
	}

	return out
}

// channelKind reports supergroups as groups; they still use channel peers.
func channelKind(megagroup bool) tether.ConversationType {
	if megagroup {
		return tether.ConversationTypeGroup
	}

	return tether.ConversationTypeChannel
}

func resolveChatFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		actor := resolveActorByUserID(typed.UserID, envelope)
		return ChatRef{
			ID:    actor.ID,
			Type:  tether.ConversationTypePrivate,
			Title: actor.DisplayName,
		}
	case *tg.PeerChat:
		return resolveChatByChatID(typed.ChatID, envelope)
	case *tg.PeerChannel:
		return resolveChatByChannelID(typed.ChannelID, envelope)
	default:
		return ChatRef{}
	}
}

func resolveChatByChatID(chatID int64, envelope gotdUpdateEnvelope) ChatRef {
	chat := ChatRef{
		ID:   strconv.FormatInt(chatID, 10),
		Type: tether.ConversationTypeGroup,
	}
	if info, ok := envelope.chatsByID[chatID]; ok {
		chat.Title = info.title
	}

	return chat
}

func resolveChatByChannelID(channelID int64, envelope gotdUpdateEnvelope) ChatRef {
	chat := ChatRef{
		ID:          strconv.FormatInt(channelID, 10),
		Type:        tether.ConversationTypeChannel,
		ChannelPeer: true,
	}
	if info, ok := envelope.chatsByID[channelID]; ok {
		chat.Title = info.title
		chat.Type = info.kind
	}

	return chat
}

func resolveActorFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ActorRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return resolveActorByUserID(typed.UserID, envelope)
	case *tg.PeerChat:
		return ActorRef{
			ID:          strconv.FormatInt(typed.ChatID, 10),
			DisplayName: lookupChatTitle(typed.ChatID, envelope),
		}
	case *tg.PeerChannel:
		return ActorRef{
			ID:          strconv.FormatInt(typed.ChannelID, 10),
			DisplayName: lookupChatTitle(typed.ChannelID, envelope),
		}
	default:
		return ActorRef{}
	}
}

func resolveActorByUserID(userID int64, envelope gotdUpdateEnvelope) ActorRef {
	if userID == 0 {
		return ActorRef{}
	}
	id := strconv.FormatInt(userID, 10)

	user, ok := envelope.usersByID[userID]
	if !ok || user == nil {
		return ActorRef{ID: id, DisplayName: id}
	}

	return actorFromUser(user)
}

func actorFromUser(user *tg.User) ActorRef {
	id := strconv.FormatInt(user.ID, 10)
	username, _ := user.GetUsername()
	firstName, _ := user.GetFirstName()
	lastName, _ := user.GetLastName()

	displayName := strings.TrimSpace(firstName + " " + lastName)
	if displayName == "" {
		displayName = username
	}
	if displayName == "" {
		displayName = id
	}

	return ActorRef{
		ID:          id,
		Username:    username,
		DisplayName: displayName,
		IsBot:       user.Bot,
	}
}

func resolveInputPeerFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		user, ok := envelope.usersByID[typed.UserID]
		if !ok || user == nil {
			return nil
		}
		return user.AsInputPeer()
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: typed.ChatID}
	case *tg.PeerChannel:
		info, ok := envelope.chatsByID[typed.ChannelID]
		if !ok || info.inputPeer == nil {
			return nil
		}
		return cloneInputPeer(info.inputPeer)
	default:
		return nil
	}
}

func lookupChatTitle(chatID int64, envelope gotdUpdateEnvelope) string {
	return envelope.chatsByID[chatID].title
}

func mapTextEntities(entities []tg.MessageEntityClass) []tether.TextEntity {
	if len(entities) == 0 {
		return nil
	}

	out := make([]tether.TextEntity, 0, len(entities))
	for _, entity := range entities {
		if entity == nil {
			continue
		}
		mapped := tether.TextEntity{
			Type:   textEntityType(entity),
			Offset: entity.GetOffset(),
			Length: entity.GetLength(),
		}
		if textURL, ok := entity.(*tg.MessageEntityTextURL); ok {
			mapped.URL = textURL.URL
		}
		out = append(out, mapped)
	}

	if len(out) == 0 {
		return nil
	}

	return out
}

func textEntityType(entity tg.MessageEntityClass) string {
	switch entity.(type) {
	case *tg.MessageEntityMention:
		return "mention"
	case *tg.MessageEntityMentionName:
		return "mention_name"
	case *tg.MessageEntityHashtag:
		return "hashtag"
	case *tg.MessageEntityCashtag:
		return "cashtag"
	case *tg.MessageEntityBotCommand:
		return "bot_command"
	case *tg.MessageEntityURL:
		return "url"
	case *tg.MessageEntityTextURL:
		return "text_url"
	case *tg.MessageEntityEmail:
		return "email"
	case *tg.MessageEntityPhone:
		return "phone"
	case *tg.MessageEntityBold:
		return "bold"
	case *tg.MessageEntityItalic:
		return "italic"
	case *tg.MessageEntityUnderline:
		return "underline"
	case *tg.MessageEntityStrike:
		return "strike"
	case *tg.MessageEntityCode:
		return "code"
	case *tg.MessageEntityPre:
		return "pre"
	case *tg.MessageEntitySpoiler:
		return "spoiler"
	case *tg.MessageEntityBlockquote:
		return "blockquote"
	case *tg.MessageEntityCustomEmoji:
		return "custom_emoji"
	default:
		return "unknown"
	}
}

func mapMessageMedia(media tg.MessageMediaClass) []tether.MediaAttachment {
	switch typed := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := typed.GetPhoto()
		if !ok || photo == nil {
			return nil
		}
		return []tether.MediaAttachment{{
			ID:   strconv.FormatInt(photo.GetID(), 10),
			Type: tether.MediaTypePhoto,
		}}
	case *tg.MessageMediaDocument:
		document, ok := typed.GetDocument()
		if !ok || document == nil {
			return nil
		}
		return mapDocumentMedia(document)
	case *tg.MessageMediaPoll:
		return []tether.MediaAttachment{{
			ID:     strconv.FormatInt(typed.Poll.ID, 10),
			Type:   tether.MediaTypePoll,
			Closed: typed.Poll.Closed,
		}}
	default:
		return nil
	}
}

func mapDocumentMedia(document tg.DocumentClass) []tether.MediaAttachment {
	typed, ok := document.(*tg.Document)
	if !ok {
		return nil
	}

	return []tether.MediaAttachment{{
		ID:        strconv.FormatInt(typed.ID, 10),
		Type:      mediaTypeFromDocument(typed.MimeType, typed.Attributes),
		MIMEType:  typed.MimeType,
		FileName:  documentFileName(typed.Attributes),
		SizeBytes: typed.Size,
	}}
}

func mediaTypeFromDocument(mimeType string, attributes []tg.DocumentAttributeClass) tether.MediaType {
	for _, attribute := range attributes {
		if _, ok := attribute.(*tg.DocumentAttributeVideo); ok {
			return tether.MediaTypeVideo
		}
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return tether.MediaTypePhoto
	case strings.HasPrefix(mimeType, "video/"):
		return tether.MediaTypeVideo
	default:
		return tether.MediaTypeDocument
	}
}

func documentFileName(attributes []tg.DocumentAttributeClass) string {
	for _, attribute := range attributes {
		if typed, ok := attribute.(*tg.DocumentAttributeFilename); ok {
			return typed.FileName
		}
	}

	return ""
}

// mapReactionCounts keeps Telegram's result order, which is first-seen order.
func mapReactionCounts(results []tg.ReactionCount) []tether.MessageReaction {
	if len(results) == 0 {
		return nil
	}

	out := make([]tether.MessageReaction, 0, len(results))
	for _, result := range results {
		emoji := reactionToEmoji(result.Reaction)
		if emoji == "" || result.Count <= 0 {
			continue
		}
		out = append(out, tether.MessageReaction{Emoji: emoji, Count: result.Count})
	}
	if len(out) == 0 {
		return nil
	}

	return out
}

func reactionToEmoji(reaction tg.ReactionClass) string {
	switch typed := reaction.(type) {
	case *tg.ReactionEmoji:
		return typed.Emoticon
	case *tg.ReactionCustomEmoji:
		return "custom:" + strconv.FormatInt(typed.DocumentID, 10)
	case *tg.ReactionPaid:
		return "paid"
	default:
		return ""
	}
}

func firstNonZeroTime(values ...time.Time) time.Time {
	for _, value := range values {
		if !value.IsZero() {
			return value
		}
	}

	return time.Time{}
}

func newGotdMetadata(envelope gotdUpdateEnvelope) map[string]string {
	if envelope.updateClass == "" {
		return nil
	}

	return map[string]string{"gotd_update": envelope.updateClass}
}
