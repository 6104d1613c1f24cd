package discord

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"otogi-invite/pkg/otogi"
)

type restAPIStub struct {
	mu         sync.Mutex
	invites    []*discordgo.Invite
	invitesErr error
	auditLog   *discordgo.GuildAuditLog
	auditErr   error
	members    []*discordgo.Member
	member     *discordgo.Member
	memberErr  error
	sent       []*discordgo.MessageSend
	sentTo     []string
	sendErr    error
}

func (s *restAPIStub) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sent = append(s.sent, data)
	s.sentTo = append(s.sentTo, channelID)

	return &discordgo.Message{ID: "m" + strconv.Itoa(len(s.sent)), ChannelID: channelID}, nil
}

func (s *restAPIStub) GuildMembers(_ string, after string, limit int, _ ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	start := 0
	if after != "" {
		for i, member := range s.members {
			if member.User.ID == after {
				start = i + 1
			}
		}
	}
	end := start + limit
	if end > len(s.members) {
		end = len(s.members)
	}

	return s.members[start:end], nil
}

func (s *restAPIStub) GuildMember(_ string, _ string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	return s.member, s.memberErr
}

func (s *restAPIStub) GuildInvites(_ string, _ ...discordgo.RequestOption) ([]*discordgo.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.invites, s.invitesErr
}

func (s *restAPIStub) GuildAuditLog(
	_ string,
	_ string,
	_ string,
	_ int,
	_ int,
	_ ...discordgo.RequestOption,
) (*discordgo.GuildAuditLog, error) {
	return s.auditLog, s.auditErr
}

func (s *restAPIStub) setInvites(invites ...*discordgo.Invite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites = invites
}

type dispatcherStub struct {
	mu     sync.Mutex
	events []*otogi.Event
	err    error
}

func (d *dispatcherStub) Publish(_ context.Context, event *otogi.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)

	return d.err
}

func (d *dispatcherStub) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.events)
}

func invite(code string, uses int, inviterID string) *discordgo.Invite {
	return &discordgo.Invite{Code: code, Uses: uses, Inviter: &discordgo.User{ID: inviterID, Username: "u" + inviterID}}
}

// snowflakeAt builds an id whose embedded timestamp is at.
func snowflakeAt(at time.Time) string {
	return strconv.FormatInt((at.UnixMilli()-1420070400000)<<22, 10)
}
