package businessflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/wa-relay/app/services"
	"github.com/amirphl/wa-relay/models"
	"github.com/amirphl/wa-relay/utils"
	"github.com/google/uuid"
)

var errStoreDown = errors.New("store is down")

// fakeSessionRepo keeps the session row in memory and records every upsert
type fakeSessionRepo struct {
	mu        sync.Mutex
	row       *models.WhatsAppSession
	upserts   []models.WhatsAppSession
	failWrite bool
	failRead  bool
}

func (r *fakeSessionRepo) ByName(ctx context.Context, name string) (*models.WhatsAppSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failRead {
		return nil, errStoreDown
	}
	if r.row == nil || r.row.SessionName != name {
		return nil, nil
	}
	row := *r.row
	return &row, nil
}

func (r *fakeSessionRepo) Upsert(ctx context.Context, session *models.WhatsAppSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite {
		return errStoreDown
	}
	row := *session
	now := utils.UTCNow()
	if r.row != nil {
		row.ID = r.row.ID
		row.CreatedAt = r.row.CreatedAt
	} else {
		row.ID = 1
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	r.row = &row
	r.upserts = append(r.upserts, row)
	return nil
}

func (r *fakeSessionRepo) setFailWrite(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWrite = fail
}

func (r *fakeSessionRepo) persistedStatuses() []models.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SessionStatus, 0, len(r.upserts))
	for _, u := range r.upserts {
		out = append(out, u.Status)
	}
	return out
}

func (r *fakeSessionRepo) current() *models.WhatsAppSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.row == nil {
		return nil
	}
	row := *r.row
	return &row
}

func (r *fakeSessionRepo) ByID(ctx context.Context, id uint) (*models.WhatsAppSession, error) {
	return r.current(), nil
}

func (r *fakeSessionRepo) ByFilter(ctx context.Context, filter models.WhatsAppSessionFilter, orderBy string, limit, offset int) ([]*models.WhatsAppSession, error) {
	if row := r.current(); row != nil {
		return []*models.WhatsAppSession{row}, nil
	}
	return nil, nil
}

func (r *fakeSessionRepo) Save(ctx context.Context, entity *models.WhatsAppSession) error {
	return r.Upsert(ctx, entity)
}

func (r *fakeSessionRepo) SaveBatch(ctx context.Context, entities []*models.WhatsAppSession) error {
	for _, e := range entities {
		if err := r.Upsert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeSessionRepo) Count(ctx context.Context, filter models.WhatsAppSessionFilter) (int64, error) {
	if r.current() != nil {
		return 1, nil
	}
	return 0, nil
}

func (r *fakeSessionRepo) Exists(ctx context.Context, filter models.WhatsAppSessionFilter) (bool, error) {
	return r.current() != nil, nil
}

// fakeMessageRepo keeps outbound messages in memory keyed by uuid
type fakeMessageRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.OutboundMessage

	// markSentFailures is how many upcoming MarkSent calls fail; negative fails every call
	markSentFailures int
	markSentCalls    int
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{rows: make(map[uuid.UUID]*models.OutboundMessage)}
}

func (r *fakeMessageRepo) addPending(phone, text string) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.rows[id] = &models.OutboundMessage{
		ID:             uint(len(r.rows) + 1),
		UUID:           id,
		SessionName:    models.DefaultSessionName,
		RecipientPhone: phone,
		MessageContent: text,
		Status:         models.OutboundMessageStatusPending,
		CreatedAt:      utils.UTCNow(),
	}
	return id
}

func (r *fakeMessageRepo) get(id uuid.UUID) *models.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil
	}
	cp := *row
	return &cp
}

func (r *fakeMessageRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.OutboundMessage, error) {
	return r.get(id), nil
}

func (r *fakeMessageRepo) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string, sentAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markSentCalls++
	if r.markSentFailures != 0 {
		if r.markSentFailures > 0 {
			r.markSentFailures--
		}
		return false, errStoreDown
	}
	row, ok := r.rows[id]
	if !ok || row.Status != models.OutboundMessageStatusPending {
		return false, nil
	}
	row.Status = models.OutboundMessageStatusSent
	row.ProviderMessageID = utils.StringPtrOrNil(providerMessageID)
	sent := sentAt.UTC()
	row.SentAt = &sent
	return true, nil
}

func (r *fakeMessageRepo) MarkFailed(ctx context.Context, id uuid.UUID, kind models.SendErrorKind, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status != models.OutboundMessageStatusPending {
		return false, nil
	}
	row.Status = models.OutboundMessageStatusFailed
	row.ErrorKind = &kind
	row.ErrorMessage = utils.StringPtrOrNil(message)
	return true, nil
}

func (r *fakeMessageRepo) ListPending(ctx context.Context, sessionName string, limit int) ([]*models.OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.OutboundMessage
	for _, row := range r.rows {
		if row.Status == models.OutboundMessageStatusPending && row.SessionName == sessionName {
			cp := *row
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeMessageRepo) ByID(ctx context.Context, id uint) (*models.OutboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeMessageRepo) ByFilter(ctx context.Context, filter models.OutboundMessageFilter, orderBy string, limit, offset int) ([]*models.OutboundMessage, error) {
	return nil, nil
}

func (r *fakeMessageRepo) Save(ctx context.Context, entity *models.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entity
	r.rows[entity.UUID] = &cp
	return nil
}

func (r *fakeMessageRepo) SaveBatch(ctx context.Context, entities []*models.OutboundMessage) error {
	for _, e := range entities {
		if err := r.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeMessageRepo) Count(ctx context.Context, filter models.OutboundMessageFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rows)), nil
}

func (r *fakeMessageRepo) Exists(ctx context.Context, filter models.OutboundMessageFilter) (bool, error) {
	n, err := r.Count(ctx, filter)
	return n > 0, err
}

// fakeClient is a SessionClient whose lifecycle is driven by the test through emit
type fakeClient struct {
	factory *fakeFactory
	sink    services.EventSink

	mu        sync.Mutex
	started   bool
	destroyed bool
	loggedOut bool
}

func (c *fakeClient) Start(ctx context.Context) error {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return c.factory.startError()
}

func (c *fakeClient) emit(evt services.ClientEvent) {
	c.sink(evt)
}

func (c *fakeClient) SendText(ctx context.Context, recipient, text string) (*services.SendResult, error) {
	return c.factory.send(ctx, recipient, text)
}

func (c *fakeClient) Contacts(ctx context.Context) ([]services.Contact, error) {
	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()
	return append([]services.Contact(nil), c.factory.contacts...), nil
}

func (c *fakeClient) Destroy(ctx context.Context, logout bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	c.loggedOut = c.loggedOut || logout
	return nil
}

func (c *fakeClient) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func (c *fakeClient) isLoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

type sentText struct {
	Recipient string
	Text      string
}

// fakeFactory creates fakeClients and records sends across all of them
type fakeFactory struct {
	mu        sync.Mutex
	clients   []*fakeClient
	createErr error
	startErr  error
	failures  map[string]error
	block     bool
	sent      []sentText
	contacts  []services.Contact
	nextID    int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{failures: make(map[string]error)}
}

func (f *fakeFactory) NewClient(ctx context.Context, sessionName string, sink services.EventSink) (services.SessionClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	c := &fakeClient{factory: f, sink: sink}
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) startError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startErr
}

func (f *fakeFactory) send(ctx context.Context, recipient, text string) (*services.SendResult, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[recipient]; ok {
		return nil, err
	}
	f.nextID++
	f.sent = append(f.sent, sentText{Recipient: recipient, Text: text})
	return &services.SendResult{
		MessageID: fmt.Sprintf("MSG%04d", f.nextID),
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil
}

func (f *fakeFactory) clientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

func (f *fakeFactory) latest() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[len(f.clients)-1]
}

func (f *fakeFactory) sentTexts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

// staticReadiness is a ReadinessSource with a fixed answer
type staticReadiness struct {
	client services.SessionClient
	ready  bool
}

func (s staticReadiness) ReadyClient() (services.SessionClient, bool) {
	return s.client, s.ready
}
