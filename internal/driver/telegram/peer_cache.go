package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"otogi-invite/pkg/otogi"

	"github.com/gotd/td/tg"
)

// PeerCache stores Telegram input peers discovered from inbound updates.
//
// Outbound replies and member lookups resolve neutral conversation ids back
// into input peers through it. A nil cache ignores writes.
type PeerCache struct {
	mu     sync.RWMutex
	byChat map[string]tg.InputPeerClass
}

// NewPeerCache creates an empty, concurrency-safe Telegram peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{byChat: make(map[string]tg.InputPeerClass)}
}

// RememberEnvelope ingests user and chat entities attached to one update batch.
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
		c.byChat[peerKey(otogi.ConversationTypePrivate, strconv.FormatInt(userID, 10))] = user.AsInputPeer()
	}
	for chatID, chat := range envelope.chatsByID {
		if chat.inputPeer != nil {
			c.byChat[peerKey(chat.kind, strconv.FormatInt(chatID, 10))] = chat.inputPeer
		}
	}
}

// RememberConversation stores one explicit conversation-to-peer mapping.
func (c *PeerCache) RememberConversation(chat ChatRef, peer tg.InputPeerClass) {
	if c == nil || peer == nil || chat.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byChat[peerKey(chat.Type, chat.ID)] = peer
}

// Resolve returns the input peer for a conversation. Megagroups are stored as
// groups but channel lookups fall back to them and the reverse.
func (c *PeerCache) Resolve(conversation otogi.Conversation) (tg.InputPeerClass, error) {
	if conversation.ID == "" || conversation.Type == "" {
		return nil, fmt.Errorf("resolve peer: invalid conversation")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	candidates := []otogi.ConversationType{conversation.Type}
	switch conversation.Type {
	case otogi.ConversationTypeGroup:
		candidates = append(candidates, otogi.ConversationTypeChannel)
	case otogi.ConversationTypeChannel:
		candidates = append(candidates, otogi.ConversationTypeGroup)
	}
	for _, candidate := range candidates {
		if peer, ok := c.byChat[peerKey(candidate, conversation.ID)]; ok {
			return peer, nil
		}
	}

	return nil, fmt.Errorf("resolve peer: conversation %s/%s not seen yet", conversation.Type, conversation.ID)
}

func peerKey(conversationType otogi.ConversationType, id string) string {
	return string(conversationType) + ":" + id
}
