package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// AccessCredential is the purchased access grant for the course platform.
// The secret code is only ever stored as a bcrypt hash; every state change
// (login success, failed attempt, lockout, deactivation) goes through a
// single conditional UPDATE in the repository layer so concurrent logins
// cannot produce lost updates.
type AccessCredential struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Email          string     `gorm:"index;type:varchar(200) CHARACTER SET utf8 COLLATE utf8_bin" json:"email" validate:"required,email,min=5,max=200"`
	Name           string     `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Phone          string     `gorm:"type:varchar(30);default:null" json:"phone,omitempty" validate:"max=30"`
	CodeHash       string     `gorm:"type:text" json:"-" validate:"required"`
	ExpiresAt      time.Time  `gorm:"type:timestamp;index" json:"expires_at"`
	UsedCount      uint       `gorm:"default:0" json:"used_count"`
	LastUsedAt     *time.Time `gorm:"type:timestamp;default:null" json:"last_used_at,omitempty"`
	FailedAttempts uint       `gorm:"default:0" json:"-"`
	Locked         bool       `gorm:"default:false" json:"locked"`
	Active         bool       `gorm:"default:true;index" json:"active"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *AccessCredential) Validate() error {
	v := validator.New()

	return v.Struct(c)
}

// IsExpired reports whether the validity window has passed.
func (c *AccessCredential) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// IsUsable reports whether the credential may still be presented at login.
// Expiry is checked separately by the verifier, after the code match.
func (c *AccessCredential) IsUsable() bool {
	return c.Active && !c.Locked
}
