package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/wa-relay/utils"
	"github.com/google/uuid"
)

// MockSentMessage records a message accepted by a mock client
type MockSentMessage struct {
	Recipient string
	Text      string
	MessageID string
	SentAt    time.Time
}

// MockClientFactory is a deterministic in-process ClientFactory for development and tests.
// Every client it creates pairs automatically: qr, then authenticated, then ready.
type MockClientFactory struct {
	PairingDelay time.Duration
	PhoneNumber  string

	mu        sync.Mutex
	clients   []*MockSessionClient
	sent      []MockSentMessage
	failures  map[string]error
	contacts  []Contact
	startErr  error
	createErr error
}

// NewMockClientFactory creates a new mock client factory
func NewMockClientFactory(pairingDelay time.Duration, phoneNumber string) *MockClientFactory {
	return &MockClientFactory{
		PairingDelay: pairingDelay,
		PhoneNumber:  phoneNumber,
		failures:     make(map[string]error),
	}
}

func (f *MockClientFactory) NewClient(ctx context.Context, sessionName string, sink EventSink) (SessionClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, f.createErr
	}

	c := &MockSessionClient{
		factory:     f,
		sessionName: sessionName,
		sink:        sink,
		done:        make(chan struct{}),
	}
	f.clients = append(f.clients, c)
	return c, nil
}

// SetCreateError makes NewClient fail until cleared with nil
func (f *MockClientFactory) SetCreateError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

// SetStartError makes Start fail until cleared with nil
func (f *MockClientFactory) SetStartError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// FailSendsTo makes every send to the recipient (matched on its digits) fail with err
func (f *MockClientFactory) FailSendsTo(recipient string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[utils.DigitsOnly(recipient)] = err
}

// SetContacts replaces the address book returned by every client
func (f *MockClientFactory) SetContacts(contacts []Contact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append([]Contact(nil), contacts...)
}

// GetSentMessages returns all messages accepted so far
func (f *MockClientFactory) GetSentMessages() []MockSentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MockSentMessage(nil), f.sent...)
}

// ClearSentMessages clears the sent messages history
func (f *MockClientFactory) ClearSentMessages() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// ClientCount returns how many clients have been created
func (f *MockClientFactory) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// LatestClient returns the most recently created client, or nil
func (f *MockClientFactory) LatestClient() *MockSessionClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

// MockSessionClient is a SessionClient created by MockClientFactory
type MockSessionClient struct {
	factory     *MockClientFactory
	sessionName string
	sink        EventSink

	mu        sync.Mutex
	ready     bool
	destroyed bool
	loggedOut bool
	done      chan struct{}
}

func (c *MockSessionClient) Start(ctx context.Context) error {
	c.factory.mu.Lock()
	startErr := c.factory.startErr
	delay := c.factory.PairingDelay
	phone := c.factory.PhoneNumber
	c.factory.mu.Unlock()

	if startErr != nil {
		return startErr
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrClientDestroyed
	}
	c.mu.Unlock()

	qr, err := EncodeQRDataURL(fmt.Sprintf("mock-pairing:%s:%s", c.sessionName, uuid.NewString()))
	if err != nil {
		return err
	}

	go func() {
		c.Emit(ClientEvent{Type: ClientEventQR, QRCode: qr})
		if !c.wait(ctx, delay) {
			return
		}
		c.Emit(ClientEvent{Type: ClientEventAuthenticated})
		if !c.wait(ctx, delay/3) {
			return
		}
		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()
		c.Emit(ClientEvent{Type: ClientEventReady, PhoneNumber: phone})
	}()
	return nil
}

func (c *MockSessionClient) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	case <-t.C:
		return true
	}
}

// Emit delivers an event to the sink unless the client has been destroyed
func (c *MockSessionClient) Emit(evt ClientEvent) {
	c.mu.Lock()
	destroyed := c.destroyed
	if evt.Type == ClientEventDisconnected || evt.Type == ClientEventAuthFailure {
		c.ready = false
	}
	c.mu.Unlock()

	if destroyed {
		return
	}
	c.sink(evt)
}

func (c *MockSessionClient) SendText(ctx context.Context, recipient, text string) (*SendResult, error) {
	c.mu.Lock()
	ready, destroyed := c.ready, c.destroyed
	c.mu.Unlock()

	if destroyed {
		return nil, ErrClientDestroyed
	}
	if !ready {
		return nil, ErrClientNotConnected
	}
	if !strings.Contains(recipient, "@") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecipient, recipient)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := c.factory
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failures[utils.DigitsOnly(strings.SplitN(recipient, "@", 2)[0])]; ok {
		return nil, err
	}

	msg := MockSentMessage{
		Recipient: recipient,
		Text:      text,
		MessageID: strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:20],
		SentAt:    utils.UTCNow(),
	}
	f.sent = append(f.sent, msg)
	log.Printf("whatsapp(mock): session %s sent message %s to %s", c.sessionName, msg.MessageID, recipient)

	return &SendResult{MessageID: msg.MessageID, Timestamp: msg.SentAt}, nil
}

func (c *MockSessionClient) Contacts(ctx context.Context) ([]Contact, error) {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	if !ready {
		return nil, ErrClientNotConnected
	}

	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()
	return append([]Contact(nil), c.factory.contacts...), nil
}

func (c *MockSessionClient) Destroy(ctx context.Context, logout bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil
	}
	c.destroyed = true
	c.ready = false
	c.loggedOut = logout
	close(c.done)
	return nil
}

// IsDestroyed reports whether Destroy has been called
func (c *MockSessionClient) IsDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// LoggedOut reports whether the client was destroyed with logout
func (c *MockSessionClient) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}
