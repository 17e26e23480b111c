package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/wa-relay/models"
	"github.com/amirphl/wa-relay/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WhatsAppSessionRepositoryImpl implements WhatsAppSessionRepository
type WhatsAppSessionRepositoryImpl struct {
	*BaseRepository[models.WhatsAppSession, models.WhatsAppSessionFilter]
}

func NewWhatsAppSessionRepository(db *gorm.DB) WhatsAppSessionRepository {
	return &WhatsAppSessionRepositoryImpl{
		BaseRepository: NewBaseRepository[models.WhatsAppSession, models.WhatsAppSessionFilter](db),
	}
}

// ByName retrieves a session by its name, nil when absent
func (r *WhatsAppSessionRepositoryImpl) ByName(ctx context.Context, name string) (*models.WhatsAppSession, error) {
	db := r.getDB(ctx)

	var row models.WhatsAppSession
	err := db.Where("session_name = ?", name).Last(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find session %q: %w", name, err)
	}

	return &row, nil
}

// Upsert inserts the session or overwrites its lifecycle columns when the name already exists
func (r *WhatsAppSessionRepositoryImpl) Upsert(ctx context.Context, session *models.WhatsAppSession) error {
	if session.SessionName == "" {
		session.SessionName = models.DefaultSessionName
	}
	session.UpdatedAt = utils.UTCNow()

	db := r.getDB(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_name"}},
		DoUpdates: clause.Assignments(map[string]any{
			"status":        clause.Expr{SQL: "EXCLUDED.status"},
			"qr_code":       clause.Expr{SQL: "EXCLUDED.qr_code"},
			"phone_number":  clause.Expr{SQL: "EXCLUDED.phone_number"},
			"error_message": clause.Expr{SQL: "EXCLUDED.error_message"},
			"last_seen_at":  clause.Expr{SQL: "EXCLUDED.last_seen_at"},
			"updated_at":    clause.Expr{SQL: "EXCLUDED.updated_at"},
		}),
	}).Create(session).Error
	if err != nil {
		return fmt.Errorf("failed to upsert session %q: %w", session.SessionName, err)
	}

	return nil
}

func (r *WhatsAppSessionRepositoryImpl) applyFilter(db *gorm.DB, f models.WhatsAppSessionFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.SessionName != nil {
		db = db.Where("session_name = ?", *f.SessionName)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.UpdatedFrom != nil {
		db = db.Where("updated_at >= ?", *f.UpdatedFrom)
	}
	return db
}

func (r *WhatsAppSessionRepositoryImpl) ByFilter(ctx context.Context, filter models.WhatsAppSessionFilter, orderBy string, limit, offset int) ([]*models.WhatsAppSession, error) {
	db := r.getDB(ctx)
	query := paginate(r.applyFilter(db.Model(&models.WhatsAppSession{}), filter), orderBy, limit, offset)

	var rows []*models.WhatsAppSession
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return rows, nil
}

func (r *WhatsAppSessionRepositoryImpl) Count(ctx context.Context, filter models.WhatsAppSessionFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.WhatsAppSession{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

func (r *WhatsAppSessionRepositoryImpl) Exists(ctx context.Context, filter models.WhatsAppSessionFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
