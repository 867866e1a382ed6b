// Package policy decides which inbound messages the assistant may react to.
package policy

import "strings"

// ChannelPolicy filters inbound messages by channel allow-list and drops the
// assistant's own messages so it never replies to itself.
type ChannelPolicy struct {
	botID    string
	allowed  map[string]struct{}
	allowAll bool
}

// NewChannelPolicy builds a policy from the configured allow-list. An empty
// list means no channel is allowed; use AllowAllChannels for open deployments.
func NewChannelPolicy(botID string, allowedChannelIDs []string) *ChannelPolicy {
	allowed := make(map[string]struct{}, len(allowedChannelIDs))
	for _, id := range allowedChannelIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		allowed[id] = struct{}{}
	}
	return &ChannelPolicy{botID: strings.TrimSpace(botID), allowed: allowed}
}

// AllowAllChannels disables the channel filter. Self-authored messages are
// still dropped.
func (p *ChannelPolicy) AllowAllChannels() *ChannelPolicy {
	p.allowAll = true
	return p
}

// ShouldHandle reports whether a message from authorID on channelID may
// trigger a turn.
func (p *ChannelPolicy) ShouldHandle(authorID, channelID string) bool {
	if p.botID != "" && authorID == p.botID {
		return false
	}
	if p.allowAll {
		return true
	}
	_, ok := p.allowed[strings.TrimSpace(channelID)]
	return ok
}
