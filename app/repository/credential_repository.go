package repository

import (
	"time"

	"github.com/globalskillscert/skillscert-api/app/models"
	"gorm.io/gorm"
)

// credentialRepository implements the CredentialRepository interface
type credentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository creates a new credential repository instance
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

// Create persists a new access credential
func (r *credentialRepository) Create(credential *models.AccessCredential) error {
	return r.db.Create(credential).Error
}

// GetByID retrieves a credential by its ID
func (r *credentialRepository) GetByID(id uint) (*models.AccessCredential, error) {
	var credential models.AccessCredential
	err := r.db.First(&credential, id).Error
	if err != nil {
		return nil, err
	}
	return &credential, nil
}

// GetActiveByEmail retrieves the newest active credential for an email.
func (r *credentialRepository) GetActiveByEmail(email string) (*models.AccessCredential, error) {
	var credential models.AccessCredential
	err := r.db.Where("email = ? AND active = ?", email, true).
		Order("created_at DESC").
		First(&credential).Error
	if err != nil {
		return nil, err
	}
	return &credential, nil
}

// RegisterFailedAttempt counts a wrong code in one statement. MySQL evaluates
// SET assignments left to right, so the locked expression sees the already
// incremented counter and flips at exactly the threshold. Raw SQL keeps the
// assignment order deterministic (a GORM map would not).
func (r *credentialRepository) RegisterFailedAttempt(id uint, lockThreshold uint) (*models.AccessCredential, error) {
	err := r.db.Exec(
		`UPDATE access_credentials
		 SET failed_attempts = failed_attempts + 1,
		     locked = (failed_attempts >= ?)
		 WHERE id = ? AND locked = 0 AND active = 1`,
		lockThreshold, id,
	).Error
	if err != nil {
		return nil, err
	}
	return r.GetByID(id)
}

// RegisterSuccessfulLogin resets the failure counter and bumps usage, guarded
// on the credential still being usable. RowsAffected == 0 means a concurrent
// writer locked or deactivated the credential first and the login must be
// rejected.
func (r *credentialRepository) RegisterSuccessfulLogin(id uint) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.AccessCredential{}).
		Where("id = ? AND locked = ? AND active = ?", id, false, true).
		Updates(map[string]interface{}{
			"failed_attempts": 0,
			"used_count":      gorm.Expr("used_count + 1"),
			"last_used_at":    &now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RotateSecret installs a fresh code hash with a new validity window and
// clears lockout state. Used for renewal purchases and code resends.
func (r *credentialRepository) RotateSecret(id uint, codeHash string, expiresAt time.Time) (bool, error) {
	res := r.db.Model(&models.AccessCredential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"code_hash":       codeHash,
			"expires_at":      expiresAt,
			"failed_attempts": 0,
			"locked":          false,
			"active":          true,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExtendValidity adds days onto the current expiry, or onto now when the
// credential already lapsed, and reactivates it.
func (r *credentialRepository) ExtendValidity(id uint, days int) (bool, error) {
	res := r.db.Exec(
		`UPDATE access_credentials
		 SET expires_at = DATE_ADD(GREATEST(expires_at, ?), INTERVAL ? DAY),
		     active = 1
		 WHERE id = ?`,
		time.Now(), days, id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Deactivate disables all credentials held by an email (admin action).
func (r *credentialRepository) Deactivate(email string) (int64, error) {
	res := r.db.Model(&models.AccessCredential{}).
		Where("email = ? AND active = ?", email, true).
		Update("active", false)
	return res.RowsAffected, res.Error
}

// CountActive returns the number of active credentials
func (r *credentialRepository) CountActive() (int64, error) {
	var count int64
	err := r.db.Model(&models.AccessCredential{}).
		Where("active = ?", true).
		Count(&count).Error
	return count, err
}
