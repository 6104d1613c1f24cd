package driver

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"otogi-invite/pkg/otogi"
)

// Router fans outbound messages and member lookups out to driver runtimes.
//
// A target naming a sink id goes to that sink. A target naming only a
// platform goes to the single sink of that platform. A target without a
// sink is accepted only when exactly one sink is routed.
type Router struct {
	routes []Runtime
}

// NewRouter keeps every runtime that can send messages or list members.
func NewRouter(runtimes []Runtime) (*Router, error) {
	var routes []Runtime
	for _, runtime := range runtimes {
		if runtime.SinkDispatcher == nil && runtime.Directory == nil {
			continue
		}
		if runtime.Source.ID == "" {
			return nil, fmt.Errorf("new router: missing sink id")
		}
		if slices.ContainsFunc(routes, func(r Runtime) bool { return r.Source.ID == runtime.Source.ID }) {
			return nil, fmt.Errorf("new router: duplicate sink id %s", runtime.Source.ID)
		}
		routes = append(routes, runtime)
	}
	slices.SortFunc(routes, func(a, b Runtime) int { return cmp.Compare(a.Source.ID, b.Source.ID) })

	return &Router{routes: routes}, nil
}

// Sinks lists routed sinks by id.
func (r *Router) Sinks() []otogi.EventSource {
	sinks := make([]otogi.EventSource, len(r.routes))
	for i, route := range r.routes {
		sinks[i] = route.Source
	}

	return sinks
}

// SendMessage validates request and hands it to the selected sink.
func (r *Router) SendMessage(ctx context.Context, request otogi.SendMessageRequest) (*otogi.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("route send message: %w", err)
	}
	route, err := r.pick(request.Target.Sink)
	if err != nil {
		return nil, fmt.Errorf("resolve sink for send message: %w", err)
	}
	if route.SinkDispatcher == nil {
		return nil, fmt.Errorf("%w: sink %s cannot send messages", otogi.ErrSinkNotFound, route.Source.ID)
	}

	sent, err := route.SinkDispatcher.SendMessage(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("route send message via %s: %w", route.Source.ID, err)
	}

	return sent, nil
}

// ListMembers returns the roster of target's group.
func (r *Router) ListMembers(ctx context.Context, target otogi.OutboundTarget) ([]otogi.MemberProfile, error) {
	directory, err := r.directory(target)
	if err != nil {
		return nil, fmt.Errorf("route list members: %w", err)
	}
	members, err := directory.ListMembers(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("route list members: %w", err)
	}

	return members, nil
}

// GetMember returns one member of target's group.
func (r *Router) GetMember(ctx context.Context, target otogi.OutboundTarget, userID string) (otogi.MemberProfile, error) {
	directory, err := r.directory(target)
	if err != nil {
		return otogi.MemberProfile{}, fmt.Errorf("route get member: %w", err)
	}
	member, err := directory.GetMember(ctx, target, userID)
	if err != nil {
		return otogi.MemberProfile{}, fmt.Errorf("route get member: %w", err)
	}

	return member, nil
}

func (r *Router) directory(target otogi.OutboundTarget) (otogi.MemberDirectory, error) {
	if target.Conversation.ID == "" {
		return nil, fmt.Errorf("%w: missing conversation id", otogi.ErrInvalidOutboundRequest)
	}
	route, err := r.pick(target.Sink)
	if err != nil {
		return nil, err
	}
	if route.Directory == nil {
		return nil, fmt.Errorf("%w: sink %s", otogi.ErrMemberDirectoryUnsupported, route.Source.ID)
	}

	return route.Directory, nil
}

func (r *Router) pick(sink *otogi.EventSource) (Runtime, error) {
	if r == nil || len(r.routes) == 0 {
		return Runtime{}, fmt.Errorf("%w: no sinks configured", otogi.ErrSinkNotFound)
	}

	switch {
	case sink == nil && len(r.routes) == 1:
		return r.routes[0], nil
	case sink == nil:
		return Runtime{}, fmt.Errorf("%w: missing target sink", otogi.ErrSinkNotFound)
	case sink.ID != "":
		return r.byID(*sink)
	default:
		return r.byPlatform(sink.Platform)
	}
}

func (r *Router) byID(sink otogi.EventSource) (Runtime, error) {
	index := slices.IndexFunc(r.routes, func(route Runtime) bool { return route.Source.ID == sink.ID })
	if index < 0 {
		return Runtime{}, fmt.Errorf("%w: sink %s not found", otogi.ErrSinkNotFound, sink.ID)
	}
	route := r.routes[index]
	if sink.Platform != "" && sink.Platform != route.Source.Platform {
		return Runtime{}, fmt.Errorf("%w: sink %s is %s, not %s",
			otogi.ErrSinkNotFound, sink.ID, route.Source.Platform, sink.Platform)
	}

	return route, nil
}

func (r *Router) byPlatform(platform otogi.Platform) (Runtime, error) {
	var matches []Runtime
	for _, route := range r.routes {
		if route.Source.Platform == platform {
			matches = append(matches, route)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return Runtime{}, fmt.Errorf("%w: no sink for platform %s", otogi.ErrSinkNotFound, platform)
	default:
		return Runtime{}, fmt.Errorf("%w: ambiguous sink for platform %s", otogi.ErrSinkNotFound, platform)
	}
}

var (
	_ otogi.SinkDispatcher  = (*Router)(nil)
	_ otogi.MemberDirectory = (*Router)(nil)
)
