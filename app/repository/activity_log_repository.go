package repository

import (
	"github.com/globalskillscert/skillscert-api/app/models"
	"gorm.io/gorm"
)

// activityLogRepository implements the ActivityLogRepository interface
type activityLogRepository struct {
	db *gorm.DB
}

// NewActivityLogRepository creates a new activity log repository instance
func NewActivityLogRepository(db *gorm.DB) ActivityLogRepository {
	return &activityLogRepository{db: db}
}

// Record inserts an audit entry
func (r *activityLogRepository) Record(entry *models.ActivityLog) error {
	return r.db.Create(entry).Error
}
