package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"tether/pkg/tether"

	"github.com/gotd/td/tg"
)

// PeerCache stores Telegram input peers discovered from inbound updates.
//
// Outbound dispatch and reply fetching use it to turn neutral conversations
// back into Telegram input peers. Supergroups are reported as groups but are
// addressed through channel peers, so lookups for a group fall back to the
// channel entry with the same id.
type PeerCache struct {
	mu    sync.RWMutex
	peers map[peerKey]tg.InputPeerClass
}

type peerKey struct {
	kind tether.ConversationType
	id   string
}

// NewPeerCache creates an empty, concurrency-safe Telegram peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{peers: make(map[peerKey]tg.InputPeerClass)}
}

// RememberEnvelope ingests entity data attached to one gotd update envelope.
func (c *PeerCache) RememberEnvelope(envelope gotdUpdateEnvelope) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, user := range envelope.usersByID {
		if user == nil {
			continue
		}
		c.storeLocked(tether.ConversationTypePrivate, strconv.FormatInt(userID, 10), user.AsInputPeer())
	}
	for chatID, chat := range envelope.chatsByID {
		c.storeLocked(chat.kind, strconv.FormatInt(chatID, 10), chat.inputPeer)
	}
}

// RememberConversation stores one explicit conversation-to-peer mapping.
func (c *PeerCache) RememberConversation(chat ChatRef, peer tg.InputPeerClass) {
	if c == nil || chat.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(chat.Type, chat.ID, peer)
}

// Resolve returns an input peer for an outbound target conversation.
func (c *PeerCache) Resolve(conversation tether.Conversation) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	if conversation.ID == "" {
		return nil, fmt.Errorf("resolve peer: missing conversation id")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	kinds := []tether.ConversationType{conversation.Type}
	switch conversation.Type {
	case "":
		kinds = []tether.ConversationType{
			tether.ConversationTypeGroup,
			tether.ConversationTypeChannel,
			tether.ConversationTypePrivate,
		}
	case tether.ConversationTypeGroup:
		kinds = append(kinds, tether.ConversationTypeChannel)
	case tether.ConversationTypeChannel:
		kinds = append(kinds, tether.ConversationTypeGroup)
	}
	for _, kind := range kinds {
		if peer, ok := c.peers[peerKey{kind: kind, id: conversation.ID}]; ok {
			return cloneInputPeer(peer), nil
		}
	}

	return nil, fmt.Errorf("resolve peer: conversation %s/%s not found", conversation.Type, conversation.ID)
}

// ResolveChat returns the peer for chat together with the chat reference
// corrected for channel addressing.
func (c *PeerCache) ResolveChat(conversation tether.Conversation) (tg.InputPeerClass, ChatRef, error) {
	peer, err := c.Resolve(conversation)
	if err != nil {
		return nil, ChatRef{}, err
	}
	_, channel := peer.(*tg.InputPeerChannel)

	return peer, ChatRef{
		ID:          conversation.ID,
		Title:       conversation.Title,
		Type:        conversation.Type,
		ChannelPeer: channel,
	}, nil
}

func (c *PeerCache) storeLocked(kind tether.ConversationType, id string, peer tg.InputPeerClass) {
	if peer == nil || id == "" {
		return
	}
	c.peers[peerKey{kind: kind, id: id}] = cloneInputPeer(peer)
	if _, channel := peer.(*tg.InputPeerChannel); channel && kind == tether.ConversationTypeGroup {
		c.peers[peerKey{kind: tether.ConversationTypeChannel, id: id}] = cloneInputPeer(peer)
	}
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChat:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChannel:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerSelf:
		copyPeer := *typed
		return &copyPeer
	default:
		return peer
	}
}

func inputChannelFromPeer(peer tg.InputPeerClass) (*tg.InputChannel, bool) {
	channel, ok := peer.(*tg.InputPeerChannel)
	if !ok {
		return nil, false
	}

	return &tg.InputChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash}, true
}
