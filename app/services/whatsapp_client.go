// Package services provides external service integrations and technical concerns like the WhatsApp client and tokens
package services

import (
	"context"
	"errors"
	"time"
)

// Session client error constants
var (
	ErrClientNotConnected = errors.New("whatsapp client is not connected")
	ErrInvalidRecipient   = errors.New("invalid recipient address")
	ErrClientDestroyed    = errors.New("whatsapp client has been destroyed")
)

// ClientEventType enumerates the lifecycle notifications a session client emits
type ClientEventType string

const (
	ClientEventQR            ClientEventType = "qr"
	ClientEventAuthenticated ClientEventType = "authenticated"
	ClientEventReady         ClientEventType = "ready"
	ClientEventAuthFailure   ClientEventType = "auth_failure"
	ClientEventDisconnected  ClientEventType = "disconnected"
)

// ClientEvent is a single lifecycle notification from a session client
type ClientEvent struct {
	Type        ClientEventType
	QRCode      string // PNG data URL, set for qr
	PhoneNumber string // account id, set for ready
	Reason      string // set for auth_failure and disconnected
}

// EventSink receives client events. It may be called from any goroutine.
type EventSink func(ClientEvent)

// SendResult is returned by a successful send
type SendResult struct {
	MessageID string
	Timestamp time.Time
}

// Contact is an individual address book entry of the linked account
type Contact struct {
	Phone      string `json:"phone"`
	Name       string `json:"name"`
	IsBusiness bool   `json:"is_business"`
}

// SessionClient is one live connection to WhatsApp Web for a single account
type SessionClient interface {
	// Start begins connecting or pairing and returns promptly; progress is reported through the sink
	Start(ctx context.Context) error
	SendText(ctx context.Context, recipient, text string) (*SendResult, error)
	Contacts(ctx context.Context) ([]Contact, error)
	// Destroy tears the connection down; logout also unlinks the device and drops cached credentials
	Destroy(ctx context.Context, logout bool) error
}

// ClientFactory creates session clients bound to an event sink
type ClientFactory interface {
	NewClient(ctx context.Context, sessionName string, sink EventSink) (SessionClient, error)
}
