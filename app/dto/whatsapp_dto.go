package dto

// SessionDTO is the stored session row as exposed by the API
type SessionDTO struct {
	SessionName  string  `json:"session_name"`
	Status       string  `json:"status"`
	QRCode       *string `json:"qr_code"`
	PhoneNumber  *string `json:"phone_number"`
	ErrorMessage *string `json:"error_message"`
	LastSeenAt   *string `json:"last_seen_at"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// SessionStatusResponse reports the live status plus the stored row (null when never persisted)
type SessionStatusResponse struct {
	Success bool        `json:"success"`
	Status  string      `json:"status"`
	IsReady bool        `json:"is_ready"`
	QRCode  *string     `json:"qr_code"`
	Session *SessionDTO `json:"session"`
}

// ConnectResponse is returned by request-qr
type ConnectResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// DisconnectRequest is the optional body of disconnect
type DisconnectRequest struct {
	Logout bool `json:"logout"`
}

// SendMessageRequest represents a single outbound message
type SendMessageRequest struct {
	Phone     string `json:"phone" validate:"required,max=64"`
	Message   string `json:"message" validate:"required,max=65536"`
	MessageID string `json:"message_id,omitempty" validate:"omitempty,uuid"`
}

// SendMessageResponse is returned after a successful send
type SendMessageResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	Timestamp string `json:"timestamp"`
}

// SendBulkRequest represents an ordered batch of outbound messages
type SendBulkRequest struct {
	Messages []SendMessageRequest `json:"messages" validate:"required,min=1"`
}

// BulkSendResult is the outcome of one message of a batch
type BulkSendResult struct {
	Phone             string `json:"phone"`
	MessageID         string `json:"message_id,omitempty"`
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
	ErrorKind         string `json:"error_kind,omitempty"`
}

// SendBulkResponse reports per message outcomes in request order
type SendBulkResponse struct {
	Success bool             `json:"success"`
	Results []BulkSendResult `json:"results"`
	Total   int              `json:"total"`
	Sent    int              `json:"sent"`
	Failed  int              `json:"failed"`
}

// ContactDTO is an individual contact of the linked account
type ContactDTO struct {
	Phone      string `json:"phone"`
	Name       string `json:"name"`
	IsBusiness bool   `json:"is_business"`
}

// ContactsResponse lists contacts, capped; Total counts all individual contacts
type ContactsResponse struct {
	Success  bool         `json:"success"`
	Count    int          `json:"count"`
	Total    int          `json:"total"`
	Contacts []ContactDTO `json:"contacts"`
}
