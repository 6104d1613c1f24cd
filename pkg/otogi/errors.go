package otogi

import "errors"

var (
	// ErrInvalidEvent indicates that an event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("otogi: invalid event")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("otogi: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("otogi: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("otogi: event dropped due to backpressure")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("otogi: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("otogi: service not found")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("otogi: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("otogi: driver already registered")
	// ErrInvalidOutboundRequest indicates an outbound request failed validation.
	ErrInvalidOutboundRequest = errors.New("otogi: invalid outbound request")
	// ErrSinkNotFound indicates that no configured sink can serve a target.
	ErrSinkNotFound = errors.New("otogi: sink not found")
	// ErrMemberDirectoryUnsupported indicates a platform cannot answer member lookups.
	ErrMemberDirectoryUnsupported = errors.New("otogi: member directory unsupported")
	// ErrMemberNotFound indicates a member lookup miss.
	ErrMemberNotFound = errors.New("otogi: member not found")
)
