package handlers

import (
	"errors"
	"log"
	"time"

	"github.com/amirphl/wa-relay/app/dto"
	businessflow "github.com/amirphl/wa-relay/business_flow"
	"github.com/amirphl/wa-relay/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// WhatsAppHandlerInterface defines the contract for the relay control surface
type WhatsAppHandlerInterface interface {
	Health(c fiber.Ctx) error
	Status(c fiber.Ctx) error
	RequestQR(c fiber.Ctx) error
	Disconnect(c fiber.Ctx) error
	SendMessage(c fiber.Ctx) error
	SendBulk(c fiber.Ctx) error
	Contacts(c fiber.Ctx) error
}

// WhatsAppHandler handles the WhatsApp session and messaging endpoints
type WhatsAppHandler struct {
	sessions       businessflow.SessionManager
	dispatch       businessflow.DispatchFlow
	validator      *validator.Validate
	requestTimeout time.Duration
}

// NewWhatsAppHandler creates a new WhatsApp handler
func NewWhatsAppHandler(sessions businessflow.SessionManager, dispatch businessflow.DispatchFlow) *WhatsAppHandler {
	return &WhatsAppHandler{
		sessions:       sessions,
		dispatch:       dispatch,
		validator:      validator.New(),
		requestTimeout: utils.DefaultRequestTimeout,
	}
}

// Health reports liveness and the session status
// @Summary Health check
// @Description Always answers 200 while the process is up; never touches the database
// @Tags Health
// @Produce json
// @Success 200 {object} dto.HealthResponse
// @Router /health [get]
func (h *WhatsAppHandler) Health(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.sessions.Health())
}

// Status reports the live session status, readiness, QR code and the stored session row
// @Summary Session status
// @Tags WhatsApp
// @Produce json
// @Success 200 {object} dto.SessionStatusResponse
// @Failure 500 {object} dto.ErrorResponse "Session store unavailable"
// @Router /api/whatsapp/status [get]
func (h *WhatsAppHandler) Status(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/whatsapp/status", h.requestTimeout)
	defer cancel()

	result, err := h.sessions.Status(ctx)
	if err != nil {
		log.Println("Get session status failed", err)
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get session status", "GET_SESSION_STATUS_FAILED", nil)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// RequestQR starts a connection and pairing unless one is ready or in progress
// @Summary Connect and request a QR code
// @Description Returns promptly; poll the status endpoint for the QR code
// @Tags WhatsApp
// @Produce json
// @Success 200 {object} dto.ConnectResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/whatsapp/request-qr [post]
func (h *WhatsAppHandler) RequestQR(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/whatsapp/request-qr", h.requestTimeout)
	defer cancel()

	result, err := h.sessions.Connect(ctx)
	if err != nil {
		log.Println("Request QR failed", err)
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to start WhatsApp connection", "CONNECT_FAILED", nil)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// Disconnect tears the session down, optionally unlinking the device
// @Summary Disconnect
// @Tags WhatsApp
// @Accept json
// @Produce json
// @Param request body dto.DisconnectRequest false "Disconnect options"
// @Success 200 {object} dto.MessageResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/whatsapp/disconnect [post]
func (h *WhatsAppHandler) Disconnect(c fiber.Ctx) error {
	var req dto.DisconnectRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}

	ctx, cancel := createRequestContext(c, "/api/whatsapp/disconnect", h.requestTimeout)
	defer cancel()

	result, err := h.sessions.Disconnect(ctx, req.Logout)
	if err != nil {
		log.Println("Disconnect failed", err)
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to disconnect", "DISCONNECT_FAILED", nil)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// SendMessage sends one text message
// @Summary Send a message
// @Tags WhatsApp
// @Accept json
// @Produce json
// @Param request body dto.SendMessageRequest true "Message"
// @Success 200 {object} dto.SendMessageResponse
// @Failure 400 {object} dto.ErrorResponse "Not connected or invalid request"
// @Failure 409 {object} dto.ErrorResponse "Correlation id already in flight or finalized"
// @Failure 500 {object} dto.ErrorResponse "Send failed or timed out"
// @Router /api/whatsapp/send-message [post]
func (h *WhatsAppHandler) SendMessage(c fiber.Ctx) error {
	var req dto.SendMessageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if !h.sessions.IsReady() {
		return ErrorResponse(c, fiber.StatusBadRequest, "WhatsApp is not connected", "WHATSAPP_NOT_CONNECTED", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContext(c, "/api/whatsapp/send-message", h.requestTimeout)
	defer cancel()

	result, err := h.dispatch.SendMessage(ctx, &req)
	if err != nil {
		return h.dispatchError(c, "Send message failed", err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// SendBulk sends an ordered batch, one message at a time
// @Summary Send a batch of messages
// @Tags WhatsApp
// @Accept json
// @Produce json
// @Param request body dto.SendBulkRequest true "Messages"
// @Success 200 {object} dto.SendBulkResponse
// @Failure 400 {object} dto.ErrorResponse "Not connected, empty or oversized batch"
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/whatsapp/send-bulk [post]
func (h *WhatsAppHandler) SendBulk(c fiber.Ctx) error {
	var req dto.SendBulkRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if !h.sessions.IsReady() {
		return ErrorResponse(c, fiber.StatusBadRequest, "WhatsApp is not connected", "WHATSAPP_NOT_CONNECTED", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	// A batch is paced, so it is bounded by the client connection rather than a fixed timeout
	ctx, cancel := createRequestContext(c, "/api/whatsapp/send-bulk", 0)
	defer cancel()

	result, err := h.dispatch.SendBulk(ctx, &req)
	if err != nil {
		return h.dispatchError(c, "Bulk send failed", err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// Contacts lists individual contacts of the linked account
// @Summary List contacts
// @Tags WhatsApp
// @Produce json
// @Success 200 {object} dto.ContactsResponse
// @Failure 400 {object} dto.ErrorResponse "Not connected"
// @Failure 500 {object} dto.ErrorResponse
// @Router /api/whatsapp/contacts [get]
func (h *WhatsAppHandler) Contacts(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/whatsapp/contacts", h.requestTimeout)
	defer cancel()

	result, err := h.dispatch.ListContacts(ctx)
	if err != nil {
		return h.dispatchError(c, "List contacts failed", err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *WhatsAppHandler) dispatchError(c fiber.Ctx, logPrefix string, err error) error {
	code := businessflow.BusinessErrorCode(err)
	message := err.Error()
	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		message = be.Message
	}

	switch {
	case businessflow.IsNotConnected(err):
		return ErrorResponse(c, fiber.StatusBadRequest, "WhatsApp is not connected", code, nil)
	case businessflow.IsValidationError(err):
		return ErrorResponse(c, fiber.StatusBadRequest, message, code, nil)
	case businessflow.IsDuplicateSend(err), businessflow.IsMessageAlreadyFinalized(err):
		return ErrorResponse(c, fiber.StatusConflict, message, code, nil)
	}

	log.Println(logPrefix, err)
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	return ErrorResponse(c, fiber.StatusInternalServerError, message, code, nil)
}
