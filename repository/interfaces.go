// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/wa-relay/models"
	"github.com/google/uuid"
)

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// WhatsAppSessionRepository defines operations for the session lifecycle mirror
type WhatsAppSessionRepository interface {
	Repository[models.WhatsAppSession, models.WhatsAppSessionFilter]
	ByName(ctx context.Context, name string) (*models.WhatsAppSession, error)
	Upsert(ctx context.Context, session *models.WhatsAppSession) error
}

// OutboundMessageRepository defines operations for outbound messages.
// Terminal writes only apply to pending rows and report whether a row changed.
type OutboundMessageRepository interface {
	Repository[models.OutboundMessage, models.OutboundMessageFilter]
	ByUUID(ctx context.Context, id uuid.UUID) (*models.OutboundMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string, sentAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, kind models.SendErrorKind, message string) (bool, error)
	ListPending(ctx context.Context, sessionName string, limit int) ([]*models.OutboundMessage, error)
}
