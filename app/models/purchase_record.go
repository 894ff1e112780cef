package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PurchaseStatusPending   = "pending"
	PurchaseStatusCompleted = "completed"
	PurchaseStatusFailed    = "failed"
)

// PurchaseRecord tracks one payment-provider checkout attempt. The unique
// index on PaymentReference is the idempotency anchor of the whole pipeline:
// webhook delivery and the client verify call race to insert it, the loser
// gets a duplicate-key error and takes the read path. A record transitions
// pending -> completed exactly once and never regresses.
type PurchaseRecord struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	PaymentReference string          `gorm:"uniqueIndex;type:varchar(191);not null" json:"payment_reference"`
	Email            string          `gorm:"type:varchar(200);index" json:"email"`
	Name             string          `gorm:"type:varchar(150)" json:"name"`
	Phone            string          `gorm:"type:varchar(30);default:null" json:"phone,omitempty"`
	Amount           decimal.Decimal `gorm:"type:decimal(10,2)" json:"amount"`
	Currency         string          `gorm:"type:varchar(3);default:'MXN'" json:"currency"`
	Status           string          `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	PaymentIntent    string          `gorm:"type:varchar(191);default:null" json:"-"`
	CredentialID     *uint           `gorm:"index" json:"credential_id,omitempty"`
	CompletedAt      *time.Time      `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCompleted reports whether a credential exists for this purchase.
func (p *PurchaseRecord) IsCompleted() bool {
	return p.Status == PurchaseStatusCompleted
}
