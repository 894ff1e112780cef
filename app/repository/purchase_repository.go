package repository

import (
	"time"

	"github.com/globalskillscert/skillscert-api/app/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// purchaseRepository implements the PurchaseRepository interface
type purchaseRepository struct {
	db *gorm.DB
}

// NewPurchaseRepository creates a new purchase repository instance
func NewPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &purchaseRepository{db: db}
}

// CreatePending inserts the reservation row for a payment reference. The
// unique index on payment_reference makes this the serialization point for
// concurrent confirmations; the duplicate-key error is returned untranslated
// for the caller to treat as "already recorded".
func (r *purchaseRepository) CreatePending(record *models.PurchaseRecord) error {
	record.Status = models.PurchaseStatusPending
	return r.db.Create(record).Error
}

// GetByPaymentReference retrieves a purchase by its provider reference
func (r *purchaseRepository) GetByPaymentReference(reference string) (*models.PurchaseRecord, error) {
	var record models.PurchaseRecord
	err := r.db.Where("payment_reference = ?", reference).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// MarkCompleted transitions pending -> completed exactly once.
func (r *purchaseRepository) MarkCompleted(id uint, credentialID uint, paymentIntent string) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.PurchaseRecord{}).
		Where("id = ? AND status = ?", id, models.PurchaseStatusPending).
		Updates(map[string]interface{}{
			"status":         models.PurchaseStatusCompleted,
			"credential_id":  credentialID,
			"payment_intent": paymentIntent,
			"completed_at":   &now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkFailed transitions pending -> failed. A completed record is left alone.
func (r *purchaseRepository) MarkFailed(id uint, reason string) (bool, error) {
	res := r.db.Model(&models.PurchaseRecord{}).
		Where("id = ? AND status = ?", id, models.PurchaseStatusPending).
		Update("status", models.PurchaseStatusFailed)
	if res.Error != nil {
		return false, res.Error
	}
	_ = reason // recorded by the caller in the activity log
	return res.RowsAffected == 1, nil
}

// ReopenFailed transitions failed -> pending for a retried confirmation.
func (r *purchaseRepository) ReopenFailed(id uint) (bool, error) {
	res := r.db.Model(&models.PurchaseRecord{}).
		Where("id = ? AND status = ?", id, models.PurchaseStatusFailed).
		Update("status", models.PurchaseStatusPending)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReclaimStalePending takes over a pending row that stopped moving. The
// updated_at guard makes the takeover conditional, so two waiters cannot both
// claim the same abandoned reservation.
func (r *purchaseRepository) ReclaimStalePending(id uint, updatedBefore time.Time) (bool, error) {
	res := r.db.Model(&models.PurchaseRecord{}).
		Where("id = ? AND status = ? AND updated_at < ?", id, models.PurchaseStatusPending, updatedBefore).
		Update("updated_at", time.Now())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountCompleted returns the number of completed purchases
func (r *purchaseRepository) CountCompleted() (int64, error) {
	var count int64
	err := r.db.Model(&models.PurchaseRecord{}).
		Where("status = ?", models.PurchaseStatusCompleted).
		Count(&count).Error
	return count, err
}

// MonthlyRevenue sums completed purchase amounts for the month of the given time.
func (r *purchaseRepository) MonthlyRevenue(month time.Time) (decimal.Decimal, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	end := start.AddDate(0, 1, 0)

	var total decimal.NullDecimal
	err := r.db.Model(&models.PurchaseRecord{}).
		Select("SUM(amount)").
		Where("status = ? AND completed_at >= ? AND completed_at < ?", models.PurchaseStatusCompleted, start, end).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
