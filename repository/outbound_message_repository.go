package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/wa-relay/models"
	"github.com/amirphl/wa-relay/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OutboundMessageRepositoryImpl implements OutboundMessageRepository
type OutboundMessageRepositoryImpl struct {
	*BaseRepository[models.OutboundMessage, models.OutboundMessageFilter]
}

func NewOutboundMessageRepository(db *gorm.DB) OutboundMessageRepository {
	return &OutboundMessageRepositoryImpl{
		BaseRepository: NewBaseRepository[models.OutboundMessage, models.OutboundMessageFilter](db),
	}
}

// ByUUID retrieves a message by its correlation id, nil when absent
func (r *OutboundMessageRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.OutboundMessage, error) {
	db := r.getDB(ctx)

	var row models.OutboundMessage
	err := db.Where("uuid = ?", id).Last(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find outbound message %s: %w", id, err)
	}

	return &row, nil
}

// MarkSent moves a pending message to sent. Returns false when the row is missing or already terminal.
func (r *OutboundMessageRepositoryImpl) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string, sentAt time.Time) (bool, error) {
	return r.finalize(ctx, id, map[string]any{
		"status":              models.OutboundMessageStatusSent,
		"provider_message_id": utils.StringPtrOrNil(providerMessageID),
		"sent_at":             sentAt.UTC(),
		"error_kind":          nil,
		"error_message":       nil,
	})
}

// MarkFailed moves a pending message to failed. Returns false when the row is missing or already terminal.
func (r *OutboundMessageRepositoryImpl) MarkFailed(ctx context.Context, id uuid.UUID, kind models.SendErrorKind, message string) (bool, error) {
	return r.finalize(ctx, id, map[string]any{
		"status":        models.OutboundMessageStatusFailed,
		"error_kind":    string(kind),
		"error_message": message,
	})
}

func (r *OutboundMessageRepositoryImpl) finalize(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error) {
	updates["updated_at"] = utils.UTCNow()

	db := r.getDB(ctx)
	res := db.Model(&models.OutboundMessage{}).
		Where("uuid = ? AND status = ?", id, models.OutboundMessageStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to finalize outbound message %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListPending returns the oldest pending messages of a session
func (r *OutboundMessageRepositoryImpl) ListPending(ctx context.Context, sessionName string, limit int) ([]*models.OutboundMessage, error) {
	status := models.OutboundMessageStatusPending
	filter := models.OutboundMessageFilter{SessionName: &sessionName, Status: &status}
	return r.ByFilter(ctx, filter, "created_at ASC, id ASC", limit, 0)
}

func (r *OutboundMessageRepositoryImpl) applyFilter(db *gorm.DB, f models.OutboundMessageFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.SessionName != nil {
		db = db.Where("session_name = ?", *f.SessionName)
	}
	if f.RecipientPhone != nil {
		db = db.Where("recipient_phone = ?", *f.RecipientPhone)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *OutboundMessageRepositoryImpl) ByFilter(ctx context.Context, filter models.OutboundMessageFilter, orderBy string, limit, offset int) ([]*models.OutboundMessage, error) {
	db := r.getDB(ctx)
	query := paginate(r.applyFilter(db.Model(&models.OutboundMessage{}), filter), orderBy, limit, offset)

	var rows []*models.OutboundMessage
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list outbound messages: %w", err)
	}
	return rows, nil
}

func (r *OutboundMessageRepositoryImpl) Count(ctx context.Context, filter models.OutboundMessageFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.OutboundMessage{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count outbound messages: %w", err)
	}
	return count, nil
}

func (r *OutboundMessageRepositoryImpl) Exists(ctx context.Context, filter models.OutboundMessageFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
