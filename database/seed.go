package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"newsletter-backend/models"
)

// SeedOperator creates the operator account unless a user with that name exists.
// Existing passwords are left alone so a password changed through the API survives a restart.
func SeedOperator(db *gorm.DB, username, password string) (created bool, err error) {
	var existing models.User
	err = db.Where("username = ?", username).Take(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("looking up operator: %w", err)
	}

	user := models.User{Username: username}
	if err := user.SetPassword(password); err != nil {
		return false, err
	}
	if err := db.Create(&user).Error; err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("creating operator: %w", err)
	}
	return true, nil
}
