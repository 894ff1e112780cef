package repository

import (
	"github.com/globalskillscert/skillscert-api/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// projectRepository implements the ProjectRepository interface
type projectRepository struct {
	db *gorm.DB
}

// NewProjectRepository creates a new project repository instance
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

// Upsert creates or updates a project by (email, project_key).
func (r *projectRepository) Upsert(project *models.Project) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "email"},
			{Name: "project_key"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"version",
			"data_json",
			"updated_at",
		}),
	}).Create(project).Error; err != nil {
		return err
	}

	return r.db.Where("email = ? AND project_key = ?", project.Email, project.ProjectKey).
		First(project).Error
}

// GetByKey retrieves a project scoped to its owning email
func (r *projectRepository) GetByKey(email, projectKey string) (*models.Project, error) {
	var project models.Project
	err := r.db.Where("email = ? AND project_key = ?", email, projectKey).First(&project).Error
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// ListByEmail returns all projects owned by an email
func (r *projectRepository) ListByEmail(email string) ([]models.Project, error) {
	var projects []models.Project
	err := r.db.Where("email = ?", email).Order("updated_at DESC").Find(&projects).Error
	return projects, err
}

// Count returns the total number of stored projects
func (r *projectRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Project{}).Count(&count).Error
	return count, err
}
