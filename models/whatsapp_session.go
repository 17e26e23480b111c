// Package models contains the persistent entities of the relay
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/wa-relay/utils"
	"gorm.io/gorm"
)

// DefaultSessionName is the name of the single session a relay process maintains
const DefaultSessionName = "default"

// SessionStatus represents the lifecycle state of a WhatsApp session
type SessionStatus string

const (
	SessionStatusDisconnected  SessionStatus = "disconnected"
	SessionStatusConnecting    SessionStatus = "connecting"
	SessionStatusQRReady       SessionStatus = "qr_ready"
	SessionStatusAuthenticated SessionStatus = "authenticated"
	SessionStatusReady         SessionStatus = "ready"
	SessionStatusError         SessionStatus = "error"
)

// String returns the string representation of the status
func (s SessionStatus) String() string {
	return string(s)
}

// IsValid checks if the status is one of the known lifecycle states
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusDisconnected, SessionStatusConnecting, SessionStatusQRReady,
		SessionStatusAuthenticated, SessionStatusReady, SessionStatusError:
		return true
	default:
		return false
	}
}

// IsActive reports whether a client instance is expected to exist in this state
func (s SessionStatus) IsActive() bool {
	return s.IsValid() && s != SessionStatusDisconnected && s != SessionStatusError
}

// IsInitializing reports whether the session is on its way to ready
func (s SessionStatus) IsInitializing() bool {
	return s == SessionStatusConnecting || s == SessionStatusQRReady || s == SessionStatusAuthenticated
}

// Scan implements the sql.Scanner interface for SessionStatus
func (s *SessionStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = SessionStatus(v)
	case []byte:
		*s = SessionStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into SessionStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for SessionStatus
func (s SessionStatus) Value() (driver.Value, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid SessionStatus: %s", s)
	}
	return string(s), nil
}

// WhatsAppSession mirrors the lifecycle of the relay's WhatsApp session
type WhatsAppSession struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	SessionName  string        `gorm:"size:64;not null;default:'default';uniqueIndex:uk_whatsapp_sessions_session_name" json:"session_name"`
	Status       SessionStatus `gorm:"type:whatsapp_session_status;not null;default:'disconnected';index:idx_whatsapp_sessions_status" json:"status"`
	QRCode       *string       `gorm:"type:text" json:"qr_code,omitempty"`
	PhoneNumber  *string       `gorm:"size:32" json:"phone_number,omitempty"`
	ErrorMessage *string       `gorm:"type:text" json:"error_message,omitempty"`
	LastSeenAt   *time.Time    `json:"last_seen_at,omitempty"`
	CreatedAt    time.Time     `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"updated_at"`
}

// TableName returns the table name for the model
func (WhatsAppSession) TableName() string {
	return "whatsapp_sessions"
}

// BeforeCreate is called before creating a new record
func (s *WhatsAppSession) BeforeCreate(tx *gorm.DB) error {
	if s.SessionName == "" {
		s.SessionName = DefaultSessionName
	}
	if s.Status == "" {
		s.Status = SessionStatusDisconnected
	}
	now := utils.UTCNow()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	return nil
}

// WhatsAppSessionFilter represents filter criteria for sessions
type WhatsAppSessionFilter struct {
	ID          *uint          `json:"id,omitempty"`
	SessionName *string        `json:"session_name,omitempty"`
	Status      *SessionStatus `json:"status,omitempty"`
	UpdatedFrom *time.Time     `json:"updated_from,omitempty"`
}
