package tether

import "errors"

var (
	// ErrInvalidEvent indicates that an event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("tether: invalid event")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("tether: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("tether: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("tether: event dropped due to backpressure")
	// ErrInvalidOutboundRequest indicates that an outbound request failed validation.
	ErrInvalidOutboundRequest = errors.New("tether: invalid outbound request")
	// ErrOutboundUnsupported indicates no configured sink can serve an outbound request.
	ErrOutboundUnsupported = errors.New("tether: outbound operation unsupported")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("tether: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("tether: service not found")
	// ErrServiceTypeMismatch indicates a service registered under a name holds
	// a value of an unexpected type.
	ErrServiceTypeMismatch = errors.New("tether: service type mismatch")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("tether: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("tether: driver already registered")
	// ErrCommandAlreadyRegistered indicates two modules declared the same command.
	ErrCommandAlreadyRegistered = errors.New("tether: command already registered")
)
