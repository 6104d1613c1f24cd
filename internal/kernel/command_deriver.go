package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"otogi-invite/pkg/otogi"
)

// newDriverDispatcher returns the dispatcher handed to drivers. It drops
// redelivered events and publishes a derived command event after each
// message that invokes a registered command.
func (k *Kernel) newDriverDispatcher() otogi.EventDispatcher {
	return &commandDeriver{
		base:          k.bus,
		lookupCommand: k.lookupCommand,
		serviceLookup: k.services,
		reportAsync:   k.cfg.onAsyncError,
		recent:        k.recent,
		logger:        k.cfg.logger,
	}
}

type commandDeriver struct {
	base          otogi.EventDispatcher
	lookupCommand func(prefix otogi.CommandPrefix, name string) (otogi.CommandSpec, bool)
	serviceLookup otogi.ServiceRegistry
	reportAsync   func(context.Context, string, error)
	recent        *redeliveryWindow
	logger        *slog.Logger
}

// Publish forwards event and then, for command messages, its derived
// command event. A command that fails to parse or bind is answered in the
// originating conversation instead.
func (d *commandDeriver) Publish(ctx context.Context, event *otogi.Event) error {
	switch {
	case event == nil:
		return fmt.Errorf("publish command deriver: nil event")
	case d.base == nil:
		return fmt.Errorf("publish command deriver: nil base dispatcher")
	}

	if d.recent.seen(event) {
		if d.logger != nil {
			d.logger.DebugContext(ctx, "redelivered event suppressed",
				"event_id", event.ID, "kind", event.Kind, "source", event.Source.ID)
		}
		return nil
	}
	if err := d.base.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish source event %s: %w", event.Kind, err)
	}

	derived, spec, cause := d.derive(event)
	if cause != nil {
		d.replyUsage(ctx, event, spec, cause)
		return nil
	}
	if derived == nil {
		return nil
	}
	if err := d.base.Publish(ctx, derived); err != nil {
		return fmt.Errorf("publish derived command %s: %w", derived.Command.Name, err)
	}

	return nil
}

// derive returns nil without a cause when event is not a registered command.
// A non-nil cause carries the command the user tried to invoke.
func (d *commandDeriver) derive(event *otogi.Event) (*otogi.Event, otogi.CommandSpec, error) {
	if event.Kind != otogi.EventKindArticleCreated || event.Article == nil {
		return nil, otogi.CommandSpec{}, nil
	}

	candidate, matched, parseErr := otogi.ParseCommandCandidate(event.Article.Text)
	if !matched {
		return nil, otogi.CommandSpec{}, nil
	}
	spec, registered := d.lookupCommand(candidate.Prefix, candidate.Name)
	if !registered {
		return nil, otogi.CommandSpec{}, nil
	}
	if parseErr != nil {
		return nil, spec, parseErr
	}

	invocation, err := otogi.BindCommand(candidate, spec, event)
	if err != nil {
		return nil, spec, err
	}

	return commandEventFor(event, candidate.Prefix, invocation), spec, nil
}

func (d *commandDeriver) replyUsage(ctx context.Context, event *otogi.Event, spec otogi.CommandSpec, cause error) {
	if err := d.sendUsage(ctx, event, spec, cause); err != nil && d.reportAsync != nil {
		d.reportAsync(ctx, "command error reply", err)
	}
}

func (d *commandDeriver) sendUsage(ctx context.Context, event *otogi.Event, spec otogi.CommandSpec, cause error) error {
	if d.serviceLookup == nil {
		return errors.New("resolve sink dispatcher: service lookup unavailable")
	}
	sink, err := otogi.ResolveAs[otogi.SinkDispatcher](d.serviceLookup, otogi.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("resolve sink dispatcher: %w", err)
	}
	target, err := otogi.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("derive reply target: %w", err)
	}

	_, err = sink.SendMessage(ctx, otogi.SendMessageRequest{
		Target:           target,
		Text:             cause.Error() + "\nusage: " + commandUsage(spec),
		ReplyToMessageID: event.Article.ID,
	})
	if err != nil {
		return fmt.Errorf("send usage reply: %w", err)
	}

	return nil
}

// commandEventFor copies the source message into a command event whose id
// is the source id plus a prefix-specific suffix.
func commandEventFor(source *otogi.Event, prefix otogi.CommandPrefix, invocation otogi.CommandInvocation) *otogi.Event {
	kind, suffix := otogi.EventKindCommandReceived, "#command"
	if prefix == otogi.CommandPrefixSystem {
		kind, suffix = otogi.EventKindSystemCommandReceived, "#system-command"
	}

	article := *source.Article
	article.Mentions = slices.Clone(article.Mentions)
	invocation.Args = slices.Clone(invocation.Args)

	derived := *source
	derived.ID = source.ID + suffix
	derived.Kind = kind
	derived.Article = &article
	derived.Notice = nil
	derived.Command = &invocation
	derived.Metadata = maps.Clone(source.Metadata)

	return &derived
}
