// Package dto contains Data Transfer Objects for API request and response structures
package dto

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealthResponse reports process liveness and the session status
type HealthResponse struct {
	Success        bool   `json:"success"`
	Status         string `json:"status"`
	WhatsAppStatus string `json:"whatsapp_status"`
	IsReady        bool   `json:"is_ready"`
	Timestamp      string `json:"timestamp"`
}
