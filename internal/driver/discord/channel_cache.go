package discord

import "sync"

const defaultChannelCacheSize = 1024

// ChannelCache remembers which channel recent messages arrived on, so replies
// addressed to a guild land in the right channel.
type ChannelCache struct {
	mu         sync.RWMutex
	limit      int
	byMessage  map[string]string
	order      []string
	byGuild    map[string]string
	guildNames map[string]string
}

// NewChannelCache creates a cache holding at most limit message entries.
func NewChannelCache(limit int) *ChannelCache {
	if limit <= 0 {
		limit = defaultChannelCacheSize
	}

	return &ChannelCache{
		limit:      limit,
		byMessage:  make(map[string]string, limit),
		byGuild:    make(map[string]string),
		guildNames: make(map[string]string),
	}
}

// RememberMessage records the channel of one message and marks it as the
// guild's most recent channel.
func (c *ChannelCache) RememberMessage(guildID string, channelID string, messageID string) {
	if channelID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if guildID != "" {
		c.byGuild[guildID] = channelID
	}
	if messageID == "" {
		return
	}
	if _, exists := c.byMessage[messageID]; !exists {
		c.order = append(c.order, messageID)
	}
	c.byMessage[messageID] = channelID
	for len(c.order) > c.limit {
		delete(c.byMessage, c.order[0])
		c.order = c.order[1:]
	}
}

// RememberGuild stores a guild's display name and fallback channel.
func (c *ChannelCache) RememberGuild(guildID string, name string, fallbackChannelID string) {
	if guildID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if name != "" {
		c.guildNames[guildID] = name
	}
	if _, ok := c.byGuild[guildID]; !ok && fallbackChannelID != "" {
		c.byGuild[guildID] = fallbackChannelID
	}
}

// GuildName returns the remembered name of a guild.
func (c *ChannelCache) GuildName(guildID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.guildNames[guildID]
}

// ChannelFor picks the channel for a reply: the replied message's channel
// first, then the guild's latest channel.
func (c *ChannelCache) ChannelFor(guildID string, replyToMessageID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if channelID, ok := c.byMessage[replyToMessageID]; ok && replyToMessageID != "" {
		return channelID, true
	}
	channelID, ok := c.byGuild[guildID]

	return channelID, ok
}
