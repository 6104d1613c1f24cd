package invitecount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"otogi-invite/pkg/otogi"
)

// Option mutates invitecount module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(module *Module) {
		module.cfg = cfg
	}
}

// WithStore injects a ledger store instead of opening the configured one.
func WithStore(store Store) Option {
	return func(module *Module) {
		if store != nil {
			module.store = store
		}
	}
}

// Module tracks group membership notices and answers invite queries.
type Module struct {
	logger     *slog.Logger
	cfg        Config
	store      Store
	clock      func() time.Time
	dispatcher otogi.SinkDispatcher
	directory  otogi.MemberDirectory
	service    *Service
}

// New creates an invitecount module.
func New(options ...Option) *Module {
	module := &Module{
		logger: slog.Default(),
		cfg:    DefaultConfig(),
		clock:  time.Now,
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "invitecount"
}

// Spec declares membership notice and invite command handlers.
func (m *Module) Spec() otogi.ModuleSpec {
	return otogi.ModuleSpec{
		Handlers: []otogi.ModuleHandler{
			{
				Capability: otogi.Capability{
					Name:        "invitecount-membership-recorder",
					Description: "records group joins, leaves and kicks with their inviter",
					Interest: otogi.InterestSet{
						Kinds:         []otogi.EventKind{otogi.EventKindNoticeReceived},
						RequireNotice: true,
					},
				},
				Subscription: otogi.NewDefaultSubscriptionSpec("invitecount-membership"),
				Handler:      m.handleNotice,
			},
			{
				Capability: otogi.Capability{
					Name:        "invitecount-command-handler",
					Description: "answers invite lookups, rankings and reward text",
					Interest: otogi.InterestSet{
						Kinds:          []otogi.EventKind{otogi.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   commandNames(),
					},
					RequiredServices: []string{otogi.ServiceSinkDispatcher},
				},
				Subscription: otogi.NewDefaultSubscriptionSpec("invitecount-commands"),
				Handler:      m.handleCommand,
			},
		},
		Commands: inviteCommands,
	}
}

// OnRegister opens the ledger and registers the query service.
func (m *Module) OnRegister(ctx context.Context, runtime otogi.ModuleRuntime) error {
	logger, err := otogi.ResolveAs[*slog.Logger](runtime.Services(), otogi.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, otogi.ErrServiceNotFound):
	default:
		return fmt.Errorf("invitecount resolve logger: %w", err)
	}

	dispatcher, err := otogi.ResolveAs[otogi.SinkDispatcher](runtime.Services(), otogi.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("invitecount resolve sink dispatcher: %w", err)
	}
	m.dispatcher = dispatcher

	directory, err := otogi.ResolveAs[otogi.MemberDirectory](runtime.Services(), otogi.ServiceMemberDirectory)
	switch {
	case err == nil:
		m.directory = directory
	case errors.Is(err, otogi.ErrServiceNotFound):
		m.logger.WarnContext(ctx, "invitecount member directory unavailable, names fall back to ids")
	default:
		return fmt.Errorf("invitecount resolve member directory: %w", err)
	}

	if m.store == nil {
		store, err := OpenStore(m.cfg)
		if err != nil {
			return fmt.Errorf("invitecount open store: %w", err)
		}
		m.store = store
	}

	ledger, err := OpenLedger(ctx, m.store, m.logger)
	if err != nil {
		_ = m.store.Close()
		return fmt.Errorf("invitecount open ledger: %w", err)
	}
	service, err := NewService(ledger, m.cfg, m.logger, m.clock)
	if err != nil {
		_ = ledger.Close()
		return fmt.Errorf("invitecount create service: %w", err)
	}
	m.service = service

	if err := runtime.Services().Register(ServiceQuery, service); err != nil {
		return fmt.Errorf("invitecount register service %s: %w", ServiceQuery, err)
	}

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(ctx context.Context) error {
	m.logger.InfoContext(ctx,
		"invitecount module started",
		"module", m.Name(),
		"storage", string(m.cfg.Storage),
		"data_file", m.cfg.ResolvedDataFile(),
		"records", m.service.ledger.Len(),
	)

	return nil
}

// OnShutdown closes the ledger store.
func (m *Module) OnShutdown(ctx context.Context) error {
	if m.service == nil {
		return nil
	}
	if err := m.service.ledger.Close(); err != nil {
		return fmt.Errorf("invitecount shutdown: %w", err)
	}

	m.logger.InfoContext(ctx, "invitecount module shutdown", "module", m.Name())

	return nil
}

// Service returns the query service once registered.
func (m *Module) Service() *Service {
	return m.service
}

func (m *Module) handleNotice(ctx context.Context, event *otogi.Event) error {
	if event == nil || event.Notice == nil || event.Kind != otogi.EventKindNoticeReceived {
		return nil
	}

	m.service.HandleMembershipEvent(ctx, event.Notice.Payload, m.lookupFor(event))

	return nil
}

func (m *Module) handleCommand(ctx context.Context, event *otogi.Event) error {
	if event == nil || event.Command == nil || event.Kind != otogi.EventKindCommandReceived {
		return nil
	}

	var text string
	switch event.Command.Name {
	case commandQuery:
		target := queryTarget(event, m.cfg.AllowAtQuery)
		text = RenderInspect(m.service.QueryUser(ctx, target, event.Conversation.ID, m.lookupFor(event)))
	case commandSelf:
		text = RenderInspect(m.service.QueryUser(ctx, event.Actor.ID, event.Conversation.ID, m.lookupFor(event)))
	case commandLeaderboard:
		request := parseLeaderboardArgs(event.Command.Args)
		if request.Help {
			text = RenderLeaderboardHelp()
			break
		}
		text = RenderLeaderboard(request.Metric, request.Window, m.service.QueryLeaderboard(request.Metric, request.Window))
	case commandReward:
		text = m.service.QueryRewardText()
	default:
		return nil
	}

	return m.reply(ctx, event, text)
}

func (m *Module) reply(ctx context.Context, event *otogi.Event, text string) error {
	target, err := otogi.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("invitecount derive outbound target: %w", err)
	}

	request := otogi.SendMessageRequest{Target: target, Text: text}
	if event.Article != nil {
		request.ReplyToMessageID = event.Article.ID
	}
	if _, err := m.dispatcher.SendMessage(ctx, request); err != nil {
		return fmt.Errorf("invitecount send reply for %s: %w", event.Command.Name, err)
	}

	return nil
}

func (m *Module) lookupFor(event *otogi.Event) MemberLookup {
	if m.directory == nil {
		return nil
	}

	lookup := DirectoryLookup{Directory: m.directory}
	if event.Source.Platform != "" || event.Source.ID != "" {
		source := event.Source
		lookup.Sink = &source
	}

	return lookup
}

func withClock(clock func() time.Time) Option {
	return func(module *Module) {
		if clock != nil {
			module.clock = clock
		}
	}
}

var (
	_ otogi.Module          = (*Module)(nil)
	_ otogi.ModuleRegistrar = (*Module)(nil)
)
