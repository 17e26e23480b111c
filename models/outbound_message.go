package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/wa-relay/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OutboundMessageStatus enumerates the delivery state of an outbound message
type OutboundMessageStatus string

const (
	OutboundMessageStatusPending OutboundMessageStatus = "pending"
	OutboundMessageStatusSent    OutboundMessageStatus = "sent"
	OutboundMessageStatusFailed  OutboundMessageStatus = "failed"
)

// Valid checks if the status is valid
func (s OutboundMessageStatus) Valid() bool {
	switch s {
	case OutboundMessageStatusPending, OutboundMessageStatusSent, OutboundMessageStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further status change is allowed
func (s OutboundMessageStatus) IsTerminal() bool {
	return s == OutboundMessageStatusSent || s == OutboundMessageStatusFailed
}

// Scan implements the sql.Scanner interface for OutboundMessageStatus
func (s *OutboundMessageStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = OutboundMessageStatus(v)
	case []byte:
		*s = OutboundMessageStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into OutboundMessageStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for OutboundMessageStatus
func (s OutboundMessageStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid OutboundMessageStatus: %s", s)
	}
	return string(s), nil
}

// SendErrorKind classifies why a message ended up failed
type SendErrorKind string

const (
	SendErrorKindSendError        SendErrorKind = "send_error"
	SendErrorKindTimeout          SendErrorKind = "timeout"
	SendErrorKindInvalidRecipient SendErrorKind = "invalid_recipient"
	SendErrorKindCancelled        SendErrorKind = "cancelled"
)

// OutboundMessage records a single message the relay is expected to deliver
type OutboundMessage struct {
	ID                uint                  `gorm:"primaryKey" json:"id"`
	UUID              uuid.UUID             `gorm:"type:uuid;not null;uniqueIndex:uk_outbound_messages_uuid" json:"uuid"`
	SessionName       string                `gorm:"size:64;not null;default:'default';index:idx_outbound_messages_session_status" json:"session_name"`
	RecipientPhone    string                `gorm:"size:64;not null" json:"recipient_phone"`
	MessageContent    string                `gorm:"type:text;not null" json:"message_content"`
	Status            OutboundMessageStatus `gorm:"type:outbound_message_status;not null;default:'pending';index:idx_outbound_messages_session_status" json:"status"`
	ProviderMessageID *string               `gorm:"size:128" json:"provider_message_id,omitempty"`
	ErrorKind         *SendErrorKind        `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorMessage      *string               `gorm:"type:text" json:"error_message,omitempty"`
	SentAt            *time.Time            `json:"sent_at,omitempty"`
	CreatedAt         time.Time             `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null;index:idx_outbound_messages_created_at" json:"created_at"`
	UpdatedAt         time.Time             `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"updated_at"`
}

// TableName returns the table name for the model
func (OutboundMessage) TableName() string {
	return "outbound_messages"
}

// BeforeCreate is called before creating a new record
func (m *OutboundMessage) BeforeCreate(tx *gorm.DB) error {
	if m.UUID == uuid.Nil {
		m.UUID = uuid.New()
	}
	if m.SessionName == "" {
		m.SessionName = DefaultSessionName
	}
	if m.Status == "" {
		m.Status = OutboundMessageStatusPending
	}
	now := utils.UTCNow()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	return nil
}

// OutboundMessageFilter represents filter criteria for outbound messages
type OutboundMessageFilter struct {
	ID             *uint                  `json:"id,omitempty"`
	UUID           *uuid.UUID             `json:"uuid,omitempty"`
	SessionName    *string                `json:"session_name,omitempty"`
	RecipientPhone *string                `json:"recipient_phone,omitempty"`
	Status         *OutboundMessageStatus `json:"status,omitempty"`
	CreatedAfter   *time.Time             `json:"created_after,omitempty"`
	CreatedBefore  *time.Time             `json:"created_before,omitempty"`
}
