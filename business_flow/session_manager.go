package businessflow

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/amirphl/wa-relay/app/dto"
	"github.com/amirphl/wa-relay/app/services"
	"github.com/amirphl/wa-relay/models"
	"github.com/amirphl/wa-relay/repository"
	"github.com/amirphl/wa-relay/utils"
)

const (
	staleSessionReason    = "relay restarted"
	defaultDestroyTimeout = 10 * time.Second
)

// SessionManager owns the single WhatsApp client of the process and mirrors its lifecycle into the store
type SessionManager interface {
	Connect(ctx context.Context) (*dto.ConnectResponse, error)
	Disconnect(ctx context.Context, logout bool) (*dto.MessageResponse, error)
	Status(ctx context.Context) (*dto.SessionStatusResponse, error)
	Health() *dto.HealthResponse

	SessionName() string
	IsReady() bool
	CurrentStatus() models.SessionStatus
	// ReadyClient captures the current client and readiness in one step
	ReadyClient() (services.SessionClient, bool)

	Restore(ctx context.Context, autoConnect bool) error
	Shutdown(ctx context.Context) error
}

// SessionManagerConfig holds the lifecycle policies of the manager
type SessionManagerConfig struct {
	SessionName    string
	ReconnectDelay time.Duration
	StoreTimeout   time.Duration
	DestroyTimeout time.Duration
}

// SessionManagerImpl implements SessionManager
type SessionManagerImpl struct {
	cfg         SessionManagerConfig
	factory     services.ClientFactory
	sessionRepo repository.WhatsAppSessionRepository
	clock       utils.Clock

	mu             sync.Mutex
	state          SessionState
	client         services.SessionClient
	clientCancel   context.CancelFunc
	generation     uint64
	reconnectTimer utils.Timer
	reconnectSeq   uint64
	closed         bool

	// persistMu is taken before mu is released so store writes land in transition order
	persistMu sync.Mutex
	wg        sync.WaitGroup
}

// NewSessionManager creates a new session manager in the disconnected state
func NewSessionManager(
	cfg SessionManagerConfig,
	factory services.ClientFactory,
	sessionRepo repository.WhatsAppSessionRepository,
	clock utils.Clock,
) *SessionManagerImpl {
	if cfg.SessionName == "" {
		cfg.SessionName = models.DefaultSessionName
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = utils.DefaultReconnectDelay
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.DestroyTimeout <= 0 {
		cfg.DestroyTimeout = defaultDestroyTimeout
	}
	if clock == nil {
		clock = utils.SystemClock()
	}

	return &SessionManagerImpl{
		cfg:         cfg,
		factory:     factory,
		sessionRepo: sessionRepo,
		clock:       clock,
		state:       SessionState{Status: models.SessionStatusDisconnected},
	}
}

func (m *SessionManagerImpl) SessionName() string {
	return m.cfg.SessionName
}

// transition applies event under the lock and performs every effect except client teardown,
// whose target is returned so the caller can choose between waiting and detaching.
// accept, when set, is evaluated under the lock and may veto the event.
func (m *SessionManagerImpl) transition(event SessionEvent, accept func() bool) (SessionTransition, services.SessionClient, bool) {
	m.mu.Lock()
	if m.closed || (accept != nil && !accept()) {
		t := unchanged(m.state)
		m.mu.Unlock()
		return t, nil, false
	}

	t := NextSessionState(m.state, event)
	if !t.Changed && t.Effects == 0 {
		m.mu.Unlock()
		return t, nil, true
	}
	m.state = t.State

	if t.Has(EffectCancelReconnect) {
		m.stopReconnectLocked()
	}

	var toDestroy services.SessionClient
	if t.Has(EffectDestroyClient) {
		toDestroy = m.client
		if m.clientCancel != nil {
			m.clientCancel()
		}
		m.client = nil
		m.clientCancel = nil
		m.generation++
	}

	var startGeneration uint64
	if t.Has(EffectStartClient) {
		m.generation++
		startGeneration = m.generation
		m.wg.Add(1)
	}

	if t.Has(EffectScheduleReconnect) {
		m.stopReconnectLocked()
		seq := m.reconnectSeq
		m.reconnectTimer = m.clock.AfterFunc(m.cfg.ReconnectDelay, func() { m.reconnectDue(seq) })
	}

	persist := t.Has(EffectPersist)
	if persist {
		m.persistMu.Lock()
	}
	m.mu.Unlock()

	if persist {
		m.persist(t.State)
		m.persistMu.Unlock()
	}
	recordSessionStatus(t.State.Status, t.Changed)

	if t.Changed {
		log.Printf("whatsapp: session %s %s -> %s", m.cfg.SessionName, event.Type, t.State.Status)
	}

	if startGeneration != 0 {
		go m.startClient(startGeneration)
	}

	return t, toDestroy, true
}

func (m *SessionManagerImpl) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectSeq++
}

func (m *SessionManagerImpl) reconnectDue(seq uint64) {
	_, _, accepted := m.transition(SessionEvent{Type: EventReconnectDue}, func() bool {
		if seq != m.reconnectSeq {
			return false
		}
		m.reconnectTimer = nil
		return true
	})
	if accepted {
		sessionReconnectsTotal.Inc()
	}
}

// handleEvent applies an event whose outcome is not awaited; teardown runs in the background
func (m *SessionManagerImpl) handleEvent(event SessionEvent, accept func() bool) {
	_, toDestroy, _ := m.transition(event, accept)
	if toDestroy != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.destroy(toDestroy, false)
		}()
	}
}

func (m *SessionManagerImpl) destroy(client services.SessionClient, logout bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DestroyTimeout)
	defer cancel()
	if err := client.Destroy(ctx, logout); err != nil {
		log.Printf("whatsapp: session %s: client teardown failed: %v", m.cfg.SessionName, err)
	}
}

func (m *SessionManagerImpl) startClient(generation uint64) {
	defer m.wg.Done()

	current := func() bool { return m.generation == generation }

	ctx, cancel := context.WithCancel(context.Background())
	client, err := m.factory.NewClient(ctx, m.cfg.SessionName, m.sinkFor(generation))
	if err != nil {
		cancel()
		log.Printf("whatsapp: session %s: failed to create client: %v", m.cfg.SessionName, err)
		m.handleEvent(SessionEvent{Type: EventClientStartFailed, Reason: err.Error()}, current)
		return
	}

	m.mu.Lock()
	if m.generation != generation || m.closed {
		m.mu.Unlock()
		cancel()
		m.destroy(client, false)
		return
	}
	m.client = client
	m.clientCancel = cancel
	m.mu.Unlock()

	if err := client.Start(ctx); err != nil {
		log.Printf("whatsapp: session %s: failed to start client: %v", m.cfg.SessionName, err)
		m.handleEvent(SessionEvent{Type: EventClientStartFailed, Reason: err.Error()}, current)
	}
}

// sinkFor binds client events to the generation that created the client
func (m *SessionManagerImpl) sinkFor(generation uint64) services.EventSink {
	current := func() bool { return m.generation == generation }
	return func(evt services.ClientEvent) {
		var event SessionEvent
		switch evt.Type {
		case services.ClientEventQR:
			event = SessionEvent{Type: EventQRReceived, QRCode: evt.QRCode}
		case services.ClientEventAuthenticated:
			event = SessionEvent{Type: EventAuthenticated}
		case services.ClientEventReady:
			event = SessionEvent{Type: EventReady, PhoneNumber: evt.PhoneNumber}
		case services.ClientEventAuthFailure:
			event = SessionEvent{Type: EventAuthFailure, Reason: evt.Reason}
		case services.ClientEventDisconnected:
			event = SessionEvent{Type: EventDisconnected, Reason: evt.Reason}
		default:
			return
		}
		m.handleEvent(event, current)
	}
}

func (m *SessionManagerImpl) persist(state SessionState) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
	defer cancel()

	now := m.clock.Now().UTC()
	row := &models.WhatsAppSession{
		SessionName:  m.cfg.SessionName,
		Status:       state.Status,
		QRCode:       state.QRCode,
		PhoneNumber:  state.PhoneNumber,
		ErrorMessage: state.ErrorMessage,
		LastSeenAt:   &now,
	}
	if err := m.sessionRepo.Upsert(ctx, row); err != nil {
		sessionStoreFailuresTotal.Inc()
		log.Printf("whatsapp: session %s: failed to persist status %s: %v", m.cfg.SessionName, state.Status, err)
	}
}

// Connect starts a new client unless one is ready or initializing
func (m *SessionManagerImpl) Connect(ctx context.Context) (*dto.ConnectResponse, error) {
	t, _, accepted := m.transition(SessionEvent{Type: EventConnectRequested}, nil)
	if !accepted {
		return nil, NewBusinessError("RELAY_SHUTTING_DOWN", "Relay is shutting down", ErrClientUnavailable)
	}

	status := t.State.Status
	switch {
	case t.Changed:
		return &dto.ConnectResponse{Success: true, Message: "Connecting to WhatsApp; poll status for the QR code", Status: status.String()}, nil
	case status == models.SessionStatusReady:
		return &dto.ConnectResponse{Success: false, Message: "already connected", Status: status.String()}, nil
	default:
		return &dto.ConnectResponse{Success: true, Message: "Connection already in progress", Status: status.String()}, nil
	}
}

// Disconnect tears the client down and ends in disconnected without scheduling a reconnect
func (m *SessionManagerImpl) Disconnect(ctx context.Context, logout bool) (*dto.MessageResponse, error) {
	_, toDestroy, accepted := m.transition(SessionEvent{Type: EventDisconnectRequested}, nil)
	if !accepted {
		return nil, NewBusinessError("RELAY_SHUTTING_DOWN", "Relay is shutting down", ErrClientUnavailable)
	}

	if toDestroy == nil && logout {
		// No live client; use a detached one to drop the cached credentials
		client, err := m.factory.NewClient(ctx, m.cfg.SessionName, func(services.ClientEvent) {})
		if err != nil {
			log.Printf("whatsapp: session %s: failed to open credentials for logout: %v", m.cfg.SessionName, err)
		} else {
			toDestroy = client
		}
	}
	if toDestroy != nil {
		m.destroy(toDestroy, logout)
	}

	message := "Disconnected from WhatsApp"
	if logout {
		message = "Logged out from WhatsApp"
	}
	return &dto.MessageResponse{Success: true, Message: message}, nil
}

// Status reports the live state together with the stored row
func (m *SessionManagerImpl) Status(ctx context.Context) (resp *dto.SessionStatusResponse, err error) {
	defer func() {
		if err != nil {
			err = NewBusinessError("GET_SESSION_STATUS_FAILED", "Failed to get session status", err)
		}
	}()

	m.mu.Lock()
	state := m.state
	ready := state.Status == models.SessionStatusReady && m.client != nil
	m.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()
	row, err := m.sessionRepo.ByName(rctx, m.cfg.SessionName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionStoreRead, err)
	}

	return &dto.SessionStatusResponse{
		Success: true,
		Status:  state.Status.String(),
		IsReady: ready,
		QRCode:  state.QRCode,
		Session: ToSessionDTO(row),
	}, nil
}

// Health never touches the store
func (m *SessionManagerImpl) Health() *dto.HealthResponse {
	_, ready := m.ReadyClient()
	return &dto.HealthResponse{
		Success:        true,
		Status:         "ok",
		WhatsAppStatus: m.CurrentStatus().String(),
		IsReady:        ready,
		Timestamp:      utils.UTCNowRFC3339(),
	}
}

func (m *SessionManagerImpl) IsReady() bool {
	_, ready := m.ReadyClient()
	return ready
}

func (m *SessionManagerImpl) CurrentStatus() models.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status
}

func (m *SessionManagerImpl) ReadyClient() (services.SessionClient, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != models.SessionStatusReady || m.client == nil {
		return nil, false
	}
	return m.client, true
}

// Restore loads the stored row at startup. A row left active by a previous process is projected to disconnected.
func (m *SessionManagerImpl) Restore(ctx context.Context, autoConnect bool) error {
	rctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	row, err := m.sessionRepo.ByName(rctx, m.cfg.SessionName)
	cancel()
	if err != nil {
		log.Printf("whatsapp: session %s: failed to load stored session: %v", m.cfg.SessionName, err)
	}

	state := SessionState{Status: models.SessionStatusDisconnected}
	if row != nil {
		state.PhoneNumber = row.PhoneNumber
		state.ErrorMessage = row.ErrorMessage
		switch {
		case row.Status == models.SessionStatusError:
			state.Status = models.SessionStatusError
		case row.Status.IsActive():
			state.ErrorMessage = strPtr(staleSessionReason)
		}
	}

	m.mu.Lock()
	m.state = state
	m.persistMu.Lock()
	m.mu.Unlock()
	m.persist(state)
	m.persistMu.Unlock()
	recordSessionStatus(state.Status, false)

	if row != nil && row.Status != state.Status {
		log.Printf("whatsapp: session %s restored as %s (was %s)", m.cfg.SessionName, state.Status, row.Status)
	}

	if autoConnect {
		if _, err := m.Connect(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown cancels reconnects, tears the client down without logging out and persists disconnected
func (m *SessionManagerImpl) Shutdown(ctx context.Context) error {
	_, toDestroy, _ := m.transition(SessionEvent{Type: EventDisconnectRequested}, func() bool {
		m.closed = true
		return true
	})
	if toDestroy != nil {
		m.destroy(toDestroy, false)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session manager shutdown: %w", ctx.Err())
	}
}
