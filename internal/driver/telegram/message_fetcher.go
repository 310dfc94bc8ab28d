package telegram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gotd/td/tg"
)

type gotdMessagesAPI interface {
	MessagesGetMessages(ctx context.Context, id []tg.InputMessageClass) (tg.MessagesMessagesClass, error)
	ChannelsGetMessages(ctx context.Context, request *tg.ChannelsGetMessagesRequest) (tg.MessagesMessagesClass, error)
}

// GotdMessageFetcher loads single messages through messages.getMessages or
// channels.getMessages.
type GotdMessageFetcher struct {
	api   gotdMessagesAPI
	peers *PeerCache
}

// NewGotdMessageFetcher creates a fetcher backed by a gotd tg.Client-like API.
func NewGotdMessageFetcher(api gotdMessagesAPI, peers *PeerCache) (*GotdMessageFetcher, error) {
	if api == nil {
		return nil, fmt.Errorf("new gotd message fetcher: nil api")
	}
	if peers == nil {
		return nil, fmt.Errorf("new gotd message fetcher: nil peer cache")
	}

	return &GotdMessageFetcher{api: api, peers: peers}, nil
}

// FetchMessage returns the current state of one message.
func (f *GotdMessageFetcher) FetchMessage(
	ctx context.Context,
	chat ChatRef,
	messageID string,
) (StoredMessage, bool, error) {
	id, err := strconv.Atoi(messageID)
	if err != nil || id <= 0 {
		return StoredMessage{}, false, fmt.Errorf("fetch message: invalid message id %q", messageID)
	}
	request := []tg.InputMessageClass{&tg.InputMessageID{ID: id}}

	var result tg.MessagesMessagesClass
	if chat.ChannelPeer {
		peer, err := f.peers.Resolve(mapConversation(chat))
		if err != nil {
			return StoredMessage{}, false, fmt.Errorf("fetch message: %w", err)
		}
		channel, ok := inputChannelFromPeer(peer)
		if !ok {
			return StoredMessage{}, false, fmt.Errorf("fetch message: conversation %s is not a channel peer", chat.ID)
		}
		result, err = f.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{Channel: channel, ID: request})
		if err != nil {
			return StoredMessage{}, false, fmt.Errorf("channels.getMessages: %w", err)
		}
	} else {
		result, err = f.api.MessagesGetMessages(ctx, request)
		if err != nil {
			return StoredMessage{}, false, fmt.Errorf("messages.getMessages: %w", err)
		}
	}

	messages, users, chats := unpackMessagesResult(result)
	envelope := gotdUpdateEnvelope{
		usersByID: indexGotdUsers(users),
		chatsByID: indexGotdChats(chats),
	}
	f.peers.RememberEnvelope(envelope)

	for _, candidate := range messages {
		message, ok := candidate.(*tg.Message)
		if !ok || message.ID != id {
			continue
		}

		return StoredMessage{
			Conversation: mapConversation(chat),
			Author:       mapActor(resolveMessageAuthor(message, envelope)),
			Message:      mapMessage(mapMessagePayload(message)),
		}, true, nil
	}

	return StoredMessage{}, false, nil
}

func unpackMessagesResult(result tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.UserClass, []tg.ChatClass) {
	switch typed := result.(type) {
	case *tg.MessagesMessages:
		return typed.Messages, typed.Users, typed.Chats
	case *tg.MessagesMessagesSlice:
		return typed.Messages, typed.Users, typed.Chats
	case *tg.MessagesChannelMessages:
		return typed.Messages, typed.Users, typed.Chats
	default:
		return nil, nil, nil
	}
}
