package businessflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/amirphl/wa-relay/app/dto"
	"github.com/amirphl/wa-relay/app/services"
	"github.com/amirphl/wa-relay/models"
	"github.com/amirphl/wa-relay/repository"
	"github.com/amirphl/wa-relay/utils"
	"github.com/google/uuid"
	"go.mau.fi/whatsmeow/types"
)

const (
	markSentAttempts   = 3
	markSentRetryDelay = 200 * time.Millisecond
)

// ReadinessSource exposes the client of a ready session
type ReadinessSource interface {
	ReadyClient() (services.SessionClient, bool)
}

// DispatchFlow handles outbound messages and contact lookups through the ready session
type DispatchFlow interface {
	SendMessage(ctx context.Context, req *dto.SendMessageRequest) (*dto.SendMessageResponse, error)
	SendBulk(ctx context.Context, req *dto.SendBulkRequest) (*dto.SendBulkResponse, error)
	ListContacts(ctx context.Context) (*dto.ContactsResponse, error)
}

// DispatchConfig holds the pacing and limits of the dispatch engine
type DispatchConfig struct {
	SendTimeout     time.Duration
	BulkDelay       time.Duration
	StoreTimeout    time.Duration
	ContactsLimit   int
	BulkMaxMessages int
}

// DispatchFlowImpl implements DispatchFlow
type DispatchFlowImpl struct {
	cfg         DispatchConfig
	sessions    ReadinessSource
	messageRepo repository.OutboundMessageRepository
	guard       services.SendGuard
	clock       utils.Clock

	// sendSlot serializes every send of the process, single or bulk
	sendSlot chan struct{}
}

// NewDispatchFlow creates a new dispatch flow
func NewDispatchFlow(
	cfg DispatchConfig,
	sessions ReadinessSource,
	messageRepo repository.OutboundMessageRepository,
	guard services.SendGuard,
	clock utils.Clock,
) DispatchFlow {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = utils.DefaultSendTimeout
	}
	if cfg.BulkDelay < 0 {
		cfg.BulkDelay = utils.DefaultBulkSendDelay
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.ContactsLimit <= 0 {
		cfg.ContactsLimit = utils.DefaultContactsLimit
	}
	if cfg.BulkMaxMessages <= 0 {
		cfg.BulkMaxMessages = 500
	}
	if clock == nil {
		clock = utils.SystemClock()
	}

	return &DispatchFlowImpl{
		cfg:         cfg,
		sessions:    sessions,
		messageRepo: messageRepo,
		guard:       guard,
		clock:       clock,
		sendSlot:    make(chan struct{}, 1),
	}
}

// NormalizeRecipient turns a free form phone number into an individual chat address
func NormalizeRecipient(phone string) (string, error) {
	digits := utils.DigitsOnly(phone)
	if digits == "" {
		return "", ErrInvalidPhone
	}
	return types.NewJID(digits, types.DefaultUserServer).String(), nil
}

// outgoing is a validated message ready for dispatch
type outgoing struct {
	phone         string
	recipient     string
	text          string
	correlationID *uuid.UUID
}

func validateMessage(req dto.SendMessageRequest) (*outgoing, error) {
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return nil, ErrPhoneRequired
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrMessageRequired
	}

	out := &outgoing{phone: phone, text: req.Message}
	if id := strings.TrimSpace(req.MessageID); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, ErrInvalidCorrelationID
		}
		out.correlationID = &parsed
	}

	recipient, err := NormalizeRecipient(phone)
	if err != nil {
		return out, err
	}
	out.recipient = recipient
	return out, nil
}

// SendMessage sends one text message through the ready session
func (f *DispatchFlowImpl) SendMessage(ctx context.Context, req *dto.SendMessageRequest) (resp *dto.SendMessageResponse, err error) {
	defer func() {
		if err != nil {
			err = wrapDispatchError(err)
		}
	}()

	client, ready := f.sessions.ReadyClient()
	if !ready {
		messagesTotal.WithLabelValues("rejected").Inc()
		return nil, ErrNotConnected
	}

	msg, err := validateMessage(*req)
	if err != nil {
		messagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	result, err := f.dispatch(ctx, client, msg)
	if err != nil {
		return nil, err
	}

	return &dto.SendMessageResponse{
		Success:   true,
		MessageID: result.MessageID,
		Timestamp: result.Timestamp.UTC().Format(time.RFC3339),
	}, nil
}

// SendBulk sends a batch strictly in order, pausing between sends. One failing recipient never aborts the batch.
func (f *DispatchFlowImpl) SendBulk(ctx context.Context, req *dto.SendBulkRequest) (resp *dto.SendBulkResponse, err error) {
	defer func() {
		if err != nil {
			err = wrapDispatchError(err)
		}
	}()

	client, ready := f.sessions.ReadyClient()
	if !ready {
		return nil, ErrNotConnected
	}
	if len(req.Messages) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(req.Messages) > f.cfg.BulkMaxMessages {
		return nil, NewBusinessErrorf("VALIDATION_ERROR", "Batch has %d messages; at most %d are allowed", ErrBatchTooLarge, len(req.Messages), f.cfg.BulkMaxMessages)
	}
	bulkBatchSize.Observe(float64(len(req.Messages)))

	resp = &dto.SendBulkResponse{
		Success: true,
		Results: make([]dto.BulkSendResult, 0, len(req.Messages)),
		Total:   len(req.Messages),
	}

	attempted := false
	for i, item := range req.Messages {
		result := dto.BulkSendResult{Phone: item.Phone, MessageID: item.MessageID}

		msg, verr := validateMessage(item)
		if verr != nil {
			messagesTotal.WithLabelValues("rejected").Inc()
			result.Error = verr.Error()
			if errors.Is(verr, ErrInvalidPhone) {
				result.ErrorKind = string(models.SendErrorKindInvalidRecipient)
			}
			if msg != nil && msg.correlationID != nil {
				f.recordFailure(ctx, *msg.correlationID, classifyKind(verr), verr.Error())
			}
			resp.Results = append(resp.Results, result)
			continue
		}

		if attempted && f.cfg.BulkDelay > 0 {
			if serr := f.clock.Sleep(ctx, f.cfg.BulkDelay); serr != nil {
				resp.Results = append(resp.Results, cancelledResults(req.Messages[i:])...)
				break
			}
		}
		if ctx.Err() != nil {
			resp.Results = append(resp.Results, cancelledResults(req.Messages[i:])...)
			break
		}
		attempted = true

		sent, serr := f.dispatch(ctx, client, msg)
		if serr != nil {
			result.Error = serr.Error()
			if !IsDuplicateSend(serr) && !IsMessageAlreadyFinalized(serr) {
				result.ErrorKind = string(classifyKind(serr))
			}
		} else {
			result.Success = true
			result.ProviderMessageID = sent.MessageID
		}
		resp.Results = append(resp.Results, result)
	}

	for _, r := range resp.Results {
		if r.Success {
			resp.Sent++
		} else {
			resp.Failed++
		}
	}

	log.Printf("whatsapp: bulk send finished: total=%d sent=%d failed=%d", resp.Total, resp.Sent, resp.Failed)
	return resp, nil
}

func cancelledResults(items []dto.SendMessageRequest) []dto.BulkSendResult {
	out := make([]dto.BulkSendResult, 0, len(items))
	for _, item := range items {
		messagesTotal.WithLabelValues("cancelled").Inc()
		out = append(out, dto.BulkSendResult{
			Phone:     item.Phone,
			MessageID: item.MessageID,
			Error:     ErrSendCancelled.Error(),
			ErrorKind: string(models.SendErrorKindCancelled),
		})
	}
	return out
}

// ListContacts returns individual contacts of the linked account, capped
func (f *DispatchFlowImpl) ListContacts(ctx context.Context) (resp *dto.ContactsResponse, err error) {
	defer func() {
		if err != nil {
			err = wrapDispatchError(err)
		}
	}()

	client, ready := f.sessions.ReadyClient()
	if !ready {
		return nil, ErrNotConnected
	}

	contacts, err := client.Contacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientUnavailable, err)
	}

	individuals := make([]dto.ContactDTO, 0, len(contacts))
	for _, c := range contacts {
		if c.Phone == "" {
			continue
		}
		individuals = append(individuals, ToContactDTO(c))
	}
	sortContacts(individuals)

	total := len(individuals)
	if len(individuals) > f.cfg.ContactsLimit {
		individuals = individuals[:f.cfg.ContactsLimit]
	}

	return &dto.ContactsResponse{
		Success:  true,
		Count:    len(individuals),
		Total:    total,
		Contacts: individuals,
	}, nil
}

// sortContacts orders by name ignoring case, then by phone
func sortContacts(contacts []dto.ContactDTO) {
	sort.Slice(contacts, func(i, j int) bool {
		a, b := strings.ToLower(contacts[i].Name), strings.ToLower(contacts[j].Name)
		if a != b {
			return a < b
		}
		return contacts[i].Phone < contacts[j].Phone
	})
}

// dispatch claims the correlation id, sends, and records the outcome on the correlated message
func (f *DispatchFlowImpl) dispatch(ctx context.Context, client services.SessionClient, msg *outgoing) (*services.SendResult, error) {
	var key string
	if msg.correlationID != nil {
		key = msg.correlationID.String()
		claimed, err := f.guard.Claim(ctx, key)
		if err != nil {
			log.Printf("whatsapp: send guard unavailable for %s, continuing: %v", key, err)
			claimed = true
		}
		if !claimed {
			messagesTotal.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSend, key)
		}
	}

	tracked, err := f.checkCorrelated(ctx, msg)
	if err != nil {
		f.release(ctx, key)
		messagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	start := time.Now()
	result, err := f.sendSerialized(ctx, client, msg.recipient, msg.text)
	sendDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		kind := classifyKind(err)
		messagesTotal.WithLabelValues(outcomeLabel(kind)).Inc()
		log.Printf("whatsapp: send to %s failed (%s): %v", msg.recipient, kind, err)
		if tracked {
			f.recordFailure(ctx, *msg.correlationID, kind, err.Error())
		}
		f.release(ctx, key)
		return nil, err
	}

	messagesTotal.WithLabelValues("sent").Inc()
	// A delivered message whose row could not be finalized keeps its claim until the
	// guard TTL expires, like an untracked correlation id, so it is not sent again
	if tracked && f.recordSent(ctx, *msg.correlationID, result) {
		f.release(ctx, key)
	}

	return result, nil
}

// recordSent marks the correlated row sent, retrying store errors.
// It reports whether this call moved the row out of pending.
func (f *DispatchFlowImpl) recordSent(ctx context.Context, id uuid.UUID, result *services.SendResult) bool {
	bg := context.WithoutCancel(ctx)
	for attempt := 1; ; attempt++ {
		storeCtx, cancel := f.storeContext(ctx)
		changed, err := f.messageRepo.MarkSent(storeCtx, id, result.MessageID, result.Timestamp)
		cancel()
		if err == nil {
			if !changed {
				log.Printf("whatsapp: message %s was no longer pending when marked sent", id)
			}
			return changed
		}

		log.Printf("whatsapp: failed to mark message %s as sent (attempt %d/%d): %v", id, attempt, markSentAttempts, err)
		if attempt == markSentAttempts {
			messageStoreFailuresTotal.Inc()
			return false
		}
		_ = f.clock.Sleep(bg, markSentRetryDelay*time.Duration(attempt))
	}
}

// checkCorrelated reports whether a stored message exists for the correlation id and rejects terminal ones
func (f *DispatchFlowImpl) checkCorrelated(ctx context.Context, msg *outgoing) (bool, error) {
	if msg.correlationID == nil {
		return false, nil
	}

	storeCtx, cancel := f.storeContext(ctx)
	defer cancel()
	row, err := f.messageRepo.ByUUID(storeCtx, *msg.correlationID)
	if err != nil {
		log.Printf("whatsapp: failed to load message %s, sending untracked: %v", msg.correlationID, err)
		return false, nil
	}
	if row == nil {
		return false, nil
	}
	if row.Status.IsTerminal() {
		return false, fmt.Errorf("%w: %s is %s", ErrMessageAlreadyFinalized, msg.correlationID, row.Status)
	}
	return true, nil
}

func (f *DispatchFlowImpl) recordFailure(ctx context.Context, id uuid.UUID, kind models.SendErrorKind, message string) {
	storeCtx, cancel := f.storeContext(ctx)
	defer cancel()
	if _, err := f.messageRepo.MarkFailed(storeCtx, id, kind, message); err != nil {
		log.Printf("whatsapp: failed to mark message %s as failed: %v", id, err)
	}
}

func (f *DispatchFlowImpl) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := f.guard.Release(context.WithoutCancel(ctx), key); err != nil {
		log.Printf("whatsapp: failed to release send claim %s: %v", key, err)
	}
}

// storeContext outlives a cancelled request so outcomes are still recorded
func (f *DispatchFlowImpl) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), f.cfg.StoreTimeout)
}

// sendSerialized holds the send slot for the whole client call. After a timeout the slot
// stays held until the abandoned call returns.
func (f *DispatchFlowImpl) sendSerialized(ctx context.Context, client services.SessionClient, recipient, text string) (*services.SendResult, error) {
	sendCtx, cancel := context.WithTimeout(ctx, f.cfg.SendTimeout)

	select {
	case f.sendSlot <- struct{}{}:
	case <-sendCtx.Done():
		err := sendCtx.Err()
		cancel()
		return nil, sendContextError(err)
	}

	type outcome struct {
		result *services.SendResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() { <-f.sendSlot }()
		result, err := client.SendText(sendCtx, recipient, text)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		cerr := sendCtx.Err()
		cancel()
		if o.err != nil {
			if cerr != nil {
				return nil, sendContextError(cerr)
			}
			return nil, fmt.Errorf("%w: %v", ErrSendFailed, o.err)
		}
		return o.result, nil
	case <-sendCtx.Done():
		err := sendCtx.Err()
		cancel()
		return nil, sendContextError(err)
	}
}

func sendContextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrSendTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrSendCancelled, err)
}

func classifyKind(err error) models.SendErrorKind {
	switch {
	case errors.Is(err, ErrSendTimeout):
		return models.SendErrorKindTimeout
	case errors.Is(err, ErrSendCancelled):
		return models.SendErrorKindCancelled
	case errors.Is(err, ErrInvalidPhone), errors.Is(err, services.ErrInvalidRecipient):
		return models.SendErrorKindInvalidRecipient
	default:
		return models.SendErrorKindSendError
	}
}

func outcomeLabel(kind models.SendErrorKind) string {
	switch kind {
	case models.SendErrorKindTimeout:
		return "timeout"
	case models.SendErrorKindCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// wrapDispatchError attaches a machine readable code to errors leaving the dispatch flow
func wrapDispatchError(err error) error {
	var be *BusinessError
	if errors.As(err, &be) {
		return err
	}
	switch {
	case IsNotConnected(err):
		return NewBusinessError("WHATSAPP_NOT_CONNECTED", "WhatsApp is not connected", err)
	case IsValidationError(err):
		return NewBusinessError("VALIDATION_ERROR", err.Error(), err)
	case IsDuplicateSend(err):
		return NewBusinessError("DUPLICATE_SEND", "Message is already being sent", err)
	case IsMessageAlreadyFinalized(err):
		return NewBusinessError("MESSAGE_ALREADY_FINALIZED", "Message has already been sent or failed", err)
	case IsSendTimeout(err):
		return NewBusinessError("SEND_TIMEOUT", "Sending the message timed out", err)
	case errors.Is(err, ErrSendCancelled):
		return NewBusinessError("SEND_CANCELLED", "Sending the message was cancelled", err)
	case errors.Is(err, ErrClientUnavailable):
		return NewBusinessError("CLIENT_UNAVAILABLE", "WhatsApp client is unavailable", err)
	default:
		return NewBusinessError("SEND_FAILED", "Failed to send message", err)
	}
}
