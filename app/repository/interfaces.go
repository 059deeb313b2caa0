package repository

import (
	"github.com/promptmint/promptmint/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	TouchAPIKeyUsage(userID uint) error
	Update(user *models.User) error
	Count() (int64, error)
}

// Repositories bundles all repository instances
type Repositories struct {
	User UserRepository
}
