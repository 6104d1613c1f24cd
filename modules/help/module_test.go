package help

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"otogi-invite/pkg/otogi"
)

var catalogFixture = []otogi.RegisteredCommand{
	{
		ModuleName: "invitecount",
		Command: otogi.CommandSpec{
			Prefix:      otogi.CommandPrefixOrdinary,
			Name:        "邀请排行",
			Aliases:     []string{"inviterank"},
			Usage:       "[总|差] [周|月]",
			Description: "查看邀请排行",
		},
	},
	{
		ModuleName: "help",
		Command: otogi.CommandSpec{
			Prefix:      otogi.CommandPrefixOrdinary,
			Name:        "help",
			Description: "列出所有可用命令",
		},
	},
	{
		ModuleName: "ops",
		Command:    otogi.CommandSpec{Prefix: otogi.CommandPrefixSystem, Name: "reload"},
	},
}

func TestModuleHandle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		event      *otogi.Event
		catalog    []otogi.RegisteredCommand
		catalogErr error
		sendErr    error
		wantErr    bool
		wantText   string
	}{
		{
			name:    "index groups ordinary commands by module",
			event:   commandEvent(commandName),
			catalog: catalogFixture,
			wantText: "可用命令:\n\n[help]\n/help - 列出所有可用命令" +
				"\n\n[invitecount]\n/邀请排行 [总|差] [周|月] - 查看邀请排行 (/inviterank)",
		},
		{
			name:     "empty catalog",
			event:    commandEvent(commandName),
			wantText: "可用命令:\n(无)",
		},
		{
			name:     "detail by alias",
			event:    commandEvent(commandName, "/InviteRank"),
			catalog:  catalogFixture,
			wantText: "用法: /邀请排行 [总|差] [周|月]\n说明: 查看邀请排行\n别名: /inviterank\n模块: invitecount",
		},
		{
			name:     "system command has no detail",
			event:    commandEvent(commandName, "reload"),
			catalog:  catalogFixture,
			wantText: "未知命令: reload",
		},
		{
			name:  "other command ignored",
			event: commandEvent("ping"),
		},
		{
			name:       "catalog failure",
			event:      commandEvent(commandName),
			catalogErr: errors.New("catalog failure"),
			wantErr:    true,
		},
		{
			name:     "send failure",
			event:    commandEvent(commandName),
			sendErr:  errors.New("sink failure"),
			wantErr:  true,
			wantText: "可用命令:\n(无)",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			sink := &sinkStub{err: testCase.sendErr}
			module := &Module{sink: sink, catalog: catalogStub{commands: testCase.catalog, err: testCase.catalogErr}}

			err := module.handle(context.Background(), testCase.event)
			if (err != nil) != testCase.wantErr {
				t.Fatalf("handle() error = %v, wantErr %v", err, testCase.wantErr)
			}
			if testCase.wantText == "" {
				if len(sink.sent) != 0 {
					t.Fatalf("sent = %+v, want nothing", sink.sent)
				}
				return
			}
			if len(sink.sent) != 1 {
				t.Fatalf("sent %d messages, want 1", len(sink.sent))
			}

			request := sink.sent[0]
			if diff := cmp.Diff(testCase.wantText, request.Text); diff != "" {
				t.Fatalf("reply text mismatch (-want +got):\n%s", diff)
			}
			if request.ReplyToMessageID != "msg-1" {
				t.Fatalf("reply_to = %q, want msg-1", request.ReplyToMessageID)
			}
			if request.Target.Sink == nil || request.Target.Sink.ID != "qq-main" {
				t.Fatalf("target sink = %+v, want qq-main", request.Target.Sink)
			}
		})
	}
}

func TestModuleHandleBeforeRegister(t *testing.T) {
	t.Parallel()

	err := New().handle(context.Background(), commandEvent(commandName))
	if err == nil || !strings.Contains(err.Error(), "module not registered") {
		t.Fatalf("handle() error = %v, want not registered", err)
	}
}

func TestModuleOnRegister(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		services map[string]any
		wantErr  string
	}{
		{
			name: "both services present",
			services: map[string]any{
				otogi.ServiceSinkDispatcher: &sinkStub{},
				otogi.ServiceCommandCatalog: catalogStub{},
			},
		},
		{
			name:     "sink missing",
			services: map[string]any{otogi.ServiceCommandCatalog: catalogStub{}},
			wantErr:  "help resolve sink dispatcher",
		},
		{
			name:     "catalog missing",
			services: map[string]any{otogi.ServiceSinkDispatcher: &sinkStub{}},
			wantErr:  "help resolve command catalog",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := New().OnRegister(context.Background(), runtimeStub{services: registryStub(testCase.services)})
			if testCase.wantErr == "" {
				if err != nil {
					t.Fatalf("OnRegister() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("OnRegister() error = %v, want %q", err, testCase.wantErr)
			}
		})
	}
}

func TestModuleSpec(t *testing.T) {
	t.Parallel()

	spec := New().Spec()
	if len(spec.Handlers) != 1 || len(spec.Commands) != 1 {
		t.Fatalf("handlers/commands = %d/%d, want 1/1", len(spec.Handlers), len(spec.Commands))
	}
	if err := spec.Commands[0].Validate(); err != nil {
		t.Fatalf("command spec invalid: %v", err)
	}
	if diff := cmp.Diff([]string{"help", "帮助"}, spec.Commands[0].Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{commandName}, spec.Handlers[0].Capability.Interest.CommandNames); diff != "" {
		t.Fatalf("interest command names mismatch (-want +got):\n%s", diff)
	}
}

func commandEvent(name string, args ...string) *otogi.Event {
	text := strings.Join(append([]string{"/" + name}, args...), " ")

	return &otogi.Event{
		ID:           "event-1#command",
		Kind:         otogi.EventKindCommandReceived,
		OccurredAt:   time.Unix(1, 0).UTC(),
		Source:       otogi.EventSource{Platform: otogi.PlatformOneBot, ID: "qq-main"},
		Conversation: otogi.Conversation{ID: "42", Type: otogi.ConversationTypeGroup},
		Article:      &otogi.Article{ID: "msg-1", Text: text},
		Command: &otogi.CommandInvocation{
			Name:            name,
			InvokedAs:       name,
			Args:            args,
			Value:           strings.Join(args, " "),
			SourceEventID:   "event-1",
			SourceEventKind: otogi.EventKindArticleCreated,
			RawInput:        text,
		},
	}
}

type sinkStub struct {
	err  error
	sent []otogi.SendMessageRequest
}

func (s *sinkStub) SendMessage(_ context.Context, request otogi.SendMessageRequest) (*otogi.OutboundMessage, error) {
	s.sent = append(s.sent, request)
	if s.err != nil {
		return nil, s.err
	}

	return &otogi.OutboundMessage{ID: "sent-1", Target: request.Target}, nil
}

type catalogStub struct {
	commands []otogi.RegisteredCommand
	err      error
}

func (c catalogStub) ListCommands(context.Context) ([]otogi.RegisteredCommand, error) {
	return c.commands, c.err
}

type runtimeStub struct {
	services otogi.ServiceRegistry
}

func (s runtimeStub) Services() otogi.ServiceRegistry { return s.services }

func (runtimeStub) Subscribe(
	context.Context,
	otogi.InterestSet,
	otogi.SubscriptionSpec,
	otogi.EventHandler,
) (otogi.Subscription, error) {
	return nil, nil
}

type registryStub map[string]any

func (registryStub) Register(string, any) error { return nil }

func (r registryStub) Resolve(name string) (any, error) {
	value, ok := r[name]
	if !ok {
		return nil, otogi.ErrServiceNotFound
	}

	return value, nil
}
