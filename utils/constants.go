package utils

import (
	"time"
)

type contextKey string

// Request context keys populated by handlers
const (
	RequestIDKey contextKey = "request_id"
	UserAgentKey contextKey = "user_agent"
	IPAddressKey contextKey = "ip_address"
	EndpointKey  contextKey = "endpoint"
	TimeoutKey   contextKey = "timeout"
)

// Relay defaults
const (
	// DefaultReconnectDelay is the fixed wait before reconnecting after an involuntary disconnect
	DefaultReconnectDelay = 5 * time.Second

	// DefaultBulkSendDelay is the pause between two sends of the same batch
	DefaultBulkSendDelay = 1 * time.Second

	// DefaultSendTimeout bounds a single send through the session client
	DefaultSendTimeout = 30 * time.Second

	// DefaultContactsLimit caps the contacts endpoint
	DefaultContactsLimit = 100

	// DefaultRequestTimeout bounds handler contexts
	DefaultRequestTimeout = 30 * time.Second
)
