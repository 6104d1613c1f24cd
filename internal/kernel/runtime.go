package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"otogi-invite/pkg/otogi"
)

// moduleRecord is the kernel's bookkeeping for one registered module.
type moduleRecord struct {
	name         string
	module       otogi.Module
	capabilities []otogi.Capability

	mu            sync.Mutex
	subscriptions []otogi.Subscription
}

func (m *moduleRecord) track(subscription otogi.Subscription) {
	m.mu.Lock()
	m.subscriptions = append(m.subscriptions, subscription)
	m.mu.Unlock()
}

// closeSubscriptions closes what the module subscribed so far. A second call
// finds nothing left to close.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.mu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.mu.Unlock()

	var errs []error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// covers reports whether one of the module's capabilities allows interest.
func (m *moduleRecord) covers(interest otogi.InterestSet) bool {
	return slices.ContainsFunc(m.capabilities, func(capability otogi.Capability) bool {
		return capability.Interest.Allows(interest)
	})
}

// moduleRuntime is the otogi.ModuleRuntime handed to OnRegister.
type moduleRuntime struct {
	moduleName    string
	serviceLookup otogi.ServiceRegistry
	bus           otogi.EventBus
	record        *moduleRecord
}

// Services returns the shared service registry.
func (r *moduleRuntime) Services() otogi.ServiceRegistry {
	return r.serviceLookup
}

// Subscribe subscribes on behalf of the module. The interest must fall within
// a capability the module declared in its spec.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest otogi.InterestSet,
	spec otogi.SubscriptionSpec,
	handler otogi.EventHandler,
) (otogi.Subscription, error) {
	if spec.Name == "" {
		spec.Name = r.moduleName + "-subscription"
	}
	if err := assertSubscriptionAllowed(r.record, interest); err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}
	r.record.track(subscription)

	return subscription, nil
}

func assertSubscriptionAllowed(record *moduleRecord, interest otogi.InterestSet) error {
	if len(record.capabilities) == 0 {
		return fmt.Errorf("module declares no capabilities")
	}
	if !record.covers(interest) {
		return fmt.Errorf("interest not covered by any declared capability")
	}

	return nil
}
