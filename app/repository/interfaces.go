package repository

import (
	"time"

	"github.com/globalskillscert/skillscert-api/app/models"
	"github.com/shopspring/decimal"
)

// PurchaseRepository defines the database operations for purchase records.
// CreatePending must surface the storage uniqueness violation on
// payment_reference as gorm.ErrDuplicatedKey; that error is the idempotency
// signal, not a failure.
type PurchaseRepository interface {
	CreatePending(record *models.PurchaseRecord) error
	GetByPaymentReference(reference string) (*models.PurchaseRecord, error)
	// MarkCompleted applies the pending -> completed transition as a single
	// conditional update. It reports false when the record was not pending,
	// which means another worker already resolved it.
	MarkCompleted(id uint, credentialID uint, paymentIntent string) (bool, error)
	// MarkFailed applies pending -> failed; a completed record never regresses.
	MarkFailed(id uint, reason string) (bool, error)
	// ReopenFailed applies failed -> pending so a later confirmation of the
	// same reference can retry credential issuance.
	ReopenFailed(id uint) (bool, error)
	// ReclaimStalePending refreshes the claim on a pending row whose last
	// update predates the cutoff. It reports true when the caller now owns
	// issuance for a row abandoned by a crashed worker.
	ReclaimStalePending(id uint, updatedBefore time.Time) (bool, error)
	CountCompleted() (int64, error)
	MonthlyRevenue(month time.Time) (decimal.Decimal, error)
}

// CredentialRepository defines the database operations for access
// credentials. All mutations are single conditional UPDATEs; callers learn
// from the applied flag whether a concurrent writer got there first.
type CredentialRepository interface {
	Create(credential *models.AccessCredential) error
	GetByID(id uint) (*models.AccessCredential, error)
	GetActiveByEmail(email string) (*models.AccessCredential, error)
	// RegisterFailedAttempt increments failed_attempts and sets locked once
	// the counter reaches the threshold, in one statement. It returns the
	// refreshed credential.
	RegisterFailedAttempt(id uint, lockThreshold uint) (*models.AccessCredential, error)
	// RegisterSuccessfulLogin resets failed_attempts and bumps usage
	// counters, guarded on the credential still being unlocked and active.
	RegisterSuccessfulLogin(id uint) (bool, error)
	// RotateSecret replaces the code hash, restarts the validity window and
	// clears lockout state.
	RotateSecret(id uint, codeHash string, expiresAt time.Time) (bool, error)
	// ExtendValidity adds days on top of the current expiry (or on top of
	// now, if the credential already expired) and reactivates it.
	ExtendValidity(id uint, days int) (bool, error)
	// Deactivate flips active to false for every credential of the email and
	// returns how many rows were affected.
	Deactivate(email string) (int64, error)
	CountActive() (int64, error)
}

// WebhookEventRepository persists provider webhook deliveries idempotently.
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// ProjectRepository stores course-design projects per purchaser.
type ProjectRepository interface {
	Upsert(project *models.Project) error
	GetByKey(email, projectKey string) (*models.Project, error)
	ListByEmail(email string) ([]models.Project, error)
	Count() (int64, error)
}

// ActivityLogRepository records audit entries. Writes are best-effort.
type ActivityLogRepository interface {
	Record(entry *models.ActivityLog) error
}

// Repositories bundles all repository implementations.
type Repositories struct {
	Purchase     PurchaseRepository
	Credential   CredentialRepository
	WebhookEvent WebhookEventRepository
	Project      ProjectRepository
	Activity     ActivityLogRepository
}
