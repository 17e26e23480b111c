package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	_ "github.com/lib/pq" // postgres dialect for the credential store
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite" // sqlite dialect for the credential store
)

const credentialDBFile = "whatsmeow.db"

// WhatsmeowConfig configures the credential store and logging of whatsmeow clients
type WhatsmeowConfig struct {
	StoreDialect string // sqlite or postgres
	AuthPath     string // directory holding the sqlite credential cache
	PostgresDSN  string // used when StoreDialect is postgres
	LogLevel     string
}

// WhatsmeowClientFactory creates session clients backed by go.mau.fi/whatsmeow.
// The credential store is opened on first use and shared by every client it creates.
type WhatsmeowClientFactory struct {
	cfg       WhatsmeowConfig
	mu        sync.Mutex
	container *sqlstore.Container
}

// NewWhatsmeowClientFactory creates a new whatsmeow client factory
func NewWhatsmeowClientFactory(cfg WhatsmeowConfig) *WhatsmeowClientFactory {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	return &WhatsmeowClientFactory{cfg: cfg}
}

func (f *WhatsmeowClientFactory) storeAddress() (string, error) {
	switch f.cfg.StoreDialect {
	case "postgres":
		if f.cfg.PostgresDSN == "" {
			return "", fmt.Errorf("postgres credential store requires a DSN")
		}
		return f.cfg.PostgresDSN, nil
	case "sqlite", "":
		if err := os.MkdirAll(f.cfg.AuthPath, 0o700); err != nil {
			return "", fmt.Errorf("failed to create credential directory: %w", err)
		}
		path := filepath.Join(f.cfg.AuthPath, credentialDBFile)
		return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)", nil
	default:
		return "", fmt.Errorf("unsupported credential store dialect %q", f.cfg.StoreDialect)
	}
}

func (f *WhatsmeowClientFactory) openContainer(ctx context.Context) (*sqlstore.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.container != nil {
		return f.container, nil
	}

	address, err := f.storeAddress()
	if err != nil {
		return nil, err
	}

	dialect := f.cfg.StoreDialect
	if dialect == "" {
		dialect = "sqlite"
	}
	container, err := sqlstore.New(ctx, dialect, address, waLog.Stdout("Database", f.cfg.LogLevel, true))
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	f.container = container
	return container, nil
}

// NewClient creates an unstarted client for the first device in the credential store
func (f *WhatsmeowClientFactory) NewClient(ctx context.Context, sessionName string, sink EventSink) (SessionClient, error) {
	container, err := f.openContainer(ctx)
	if err != nil {
		return nil, err
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	cli := whatsmeow.NewClient(device, waLog.Stdout("Client", f.cfg.LogLevel, true))
	// Reconnects are driven by the session manager
	cli.EnableAutoReconnect = false

	c := &whatsmeowClient{
		sessionName: sessionName,
		cli:         cli,
		sink:        sink,
	}
	cli.AddEventHandler(c.handleEvent)
	return c, nil
}

// Close releases the credential store
func (f *WhatsmeowClientFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.container == nil {
		return nil
	}
	err := f.container.Close()
	f.container = nil
	return err
}

type whatsmeowClient struct {
	sessionName string
	cli         *whatsmeow.Client
	sink        EventSink

	authenticated atomic.Bool
	destroyed     atomic.Bool
}

func (c *whatsmeowClient) emit(evt ClientEvent) {
	if c.destroyed.Load() {
		return
	}
	c.sink(evt)
}

func (c *whatsmeowClient) emitAuthenticated() {
	if c.authenticated.CompareAndSwap(false, true) {
		c.emit(ClientEvent{Type: ClientEventAuthenticated})
	}
}

// Start connects with stored credentials or, for an unpaired device, opens the QR pairing flow.
// ctx bounds the pairing flow and should live as long as the client.
func (c *whatsmeowClient) Start(ctx context.Context) error {
	if c.destroyed.Load() {
		return ErrClientDestroyed
	}

	if c.cli.Store.ID == nil {
		qrChan, err := c.cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to open QR channel: %w", err)
		}
		go c.consumeQR(qrChan)
	}

	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (c *whatsmeowClient) consumeQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			dataURL, err := EncodeQRDataURL(item.Code)
			if err != nil {
				log.Printf("whatsapp: session %s: %v", c.sessionName, err)
				continue
			}
			c.emit(ClientEvent{Type: ClientEventQR, QRCode: dataURL})
		case "success":
			// PairSuccess reports authentication
		case "timeout":
			c.emit(ClientEvent{Type: ClientEventAuthFailure, Reason: "QR code was not scanned in time"})
		default:
			reason := "pairing failed: " + item.Event
			if item.Error != nil {
				reason = "pairing failed: " + item.Error.Error()
			}
			c.emit(ClientEvent{Type: ClientEventAuthFailure, Reason: reason})
		}
	}
}

func (c *whatsmeowClient) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.PairSuccess:
		c.emitAuthenticated()
	case *events.Connected:
		phone := ""
		if c.cli.Store.ID != nil {
			phone = c.cli.Store.ID.User
		}
		c.connected(phone)
	case *events.PairError:
		c.emit(ClientEvent{Type: ClientEventAuthFailure, Reason: fmt.Sprintf("pairing failed: %v", evt.Error)})
	case *events.LoggedOut:
		c.emit(ClientEvent{Type: ClientEventAuthFailure, Reason: fmt.Sprintf("logged out: %v", evt.Reason)})
	case *events.TemporaryBan:
		c.emit(ClientEvent{Type: ClientEventAuthFailure, Reason: fmt.Sprintf("temporarily banned: %v", evt.Code)})
	case *events.ClientOutdated:
		c.emit(ClientEvent{Type: ClientEventAuthFailure, Reason: "client version is outdated"})
	case *events.ConnectFailure:
		reason := fmt.Sprintf("connect failure: %v", evt.Reason)
		if evt.Reason.IsLoggedOut() {
			c.emit(ClientEvent{Type: ClientEventAuthFailure, Reason: reason})
			return
		}
		c.emit(ClientEvent{Type: ClientEventDisconnected, Reason: reason})
	case *events.StreamReplaced:
		c.emit(ClientEvent{Type: ClientEventDisconnected, Reason: "session opened elsewhere"})
	case *events.Disconnected:
		c.emit(ClientEvent{Type: ClientEventDisconnected, Reason: "connection lost"})
	}
}

// connected reports authentication first when pairing did not already, then readiness.
// A device restored from stored credentials only ever sees Connected.
func (c *whatsmeowClient) connected(phone string) {
	c.emitAuthenticated()
	c.emit(ClientEvent{Type: ClientEventReady, PhoneNumber: phone})
}

func (c *whatsmeowClient) SendText(ctx context.Context, recipient, text string) (*SendResult, error) {
	if c.destroyed.Load() {
		return nil, ErrClientDestroyed
	}
	jid, err := types.ParseJID(recipient)
	if err != nil || jid.User == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecipient, recipient)
	}
	if !c.cli.IsConnected() {
		return nil, ErrClientNotConnected
	}

	resp, err := c.cli.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	return &SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (c *whatsmeowClient) Contacts(ctx context.Context) ([]Contact, error) {
	all, err := c.cli.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load contacts: %w", err)
	}

	contacts := make([]Contact, 0, len(all))
	for jid, info := range all {
		if jid.Server != types.DefaultUserServer {
			continue
		}
		contacts = append(contacts, Contact{
			Phone:      jid.User,
			Name:       firstNonEmpty(info.FullName, info.PushName, info.BusinessName, info.FirstName, jid.User),
			IsBusiness: info.BusinessName != "",
		})
	}

	return contacts, nil
}

func (c *whatsmeowClient) Destroy(ctx context.Context, logout bool) error {
	if !c.destroyed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if logout && c.cli.Store.ID != nil {
		if c.cli.IsConnected() {
			err = c.cli.Logout(ctx)
		}
		if err != nil || c.cli.Store.ID != nil {
			// Unlinking failed or was impossible offline; drop the local credentials anyway
			if delErr := c.cli.Store.Delete(ctx); delErr != nil && err == nil {
				err = delErr
			}
		}
	}

	c.cli.Disconnect()
	c.cli.RemoveEventHandlers()
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
