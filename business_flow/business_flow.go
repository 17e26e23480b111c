package businessflow

import (
	"time"

	"github.com/amirphl/wa-relay/app/dto"
	"github.com/amirphl/wa-relay/app/services"
	"github.com/amirphl/wa-relay/models"
)

// ClientMetadata holds request information attached to relay log lines
type ClientMetadata struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	RequestID string `json:"request_id,omitempty"`
	Caller    string `json:"caller,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// SetCaller records the authenticated API client, if any
func (cm *ClientMetadata) SetCaller(caller string) {
	cm.Caller = caller
}

// ToSessionDTO converts the stored session row, nil when the row does not exist yet
func ToSessionDTO(session *models.WhatsAppSession) *dto.SessionDTO {
	if session == nil {
		return nil
	}

	var lastSeen *string
	if session.LastSeenAt != nil {
		s := session.LastSeenAt.UTC().Format(time.RFC3339)
		lastSeen = &s
	}

	return &dto.SessionDTO{
		SessionName:  session.SessionName,
		Status:       session.Status.String(),
		QRCode:       session.QRCode,
		PhoneNumber:  session.PhoneNumber,
		ErrorMessage: session.ErrorMessage,
		LastSeenAt:   lastSeen,
		CreatedAt:    session.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    session.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func ToContactDTO(contact services.Contact) dto.ContactDTO {
	return dto.ContactDTO{
		Phone:      contact.Phone,
		Name:       contact.Name,
		IsBusiness: contact.IsBusiness,
	}
}
