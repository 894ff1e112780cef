package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Project is a purchaser's saved course-design project. The payload is an
// opaque JSON document owned by the frontend; the server only scopes it to
// the owning email and upserts by (email, project_key).
type Project struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Email      string    `gorm:"type:varchar(200);not null;index:ux_projects_email_key,unique,priority:1" json:"email" validate:"required,email"`
	ProjectKey string    `gorm:"type:varchar(100);not null;index:ux_projects_email_key,unique,priority:2" json:"project_key" validate:"required,max=100"`
	Name       string    `gorm:"type:varchar(200)" json:"name" validate:"max=200"`
	Version    string    `gorm:"type:varchar(20);default:'1.0.0'" json:"version"`
	DataJSON   string    `gorm:"type:longtext" json:"data_json"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Project) Validate() error {
	v := validator.New()

	return v.Struct(p)
}
