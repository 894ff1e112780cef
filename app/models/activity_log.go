package models

import "time"

// Activity actions recorded by the pipeline. Writes are best-effort and must
// never fail the request that triggered them.
const (
	ActivityPaymentVerified = "payment_verified"
	ActivityLoginSuccess    = "login_success"
	ActivityLoginFailed     = "login_failed"
	ActivityCodeResent      = "code_resent"
	ActivityWebhookRejected = "webhook_rejected"
	ActivityProjectSaved    = "project_saved"
)

type ActivityLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Email         string    `gorm:"type:varchar(200);index;default:null" json:"email,omitempty"`
	Action        string    `gorm:"type:varchar(50);index" json:"action"`
	Description   string    `gorm:"type:text" json:"description"`
	IPAddress     string    `gorm:"type:varchar(45);default:null" json:"-"`
	CorrelationID string    `gorm:"type:varchar(36);default:null" json:"correlation_id,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
