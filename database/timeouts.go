package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SetLocalLockTimeout bounds lock waits for the rest of the transaction tx.
// A zero duration leaves the server default in place.
func SetLocalLockTimeout(tx *gorm.DB, d time.Duration) error {
	return setLocal(tx, "lock_timeout", d)
}

// SetLocalStatementTimeout bounds every statement for the rest of the transaction tx.
func SetLocalStatementTimeout(tx *gorm.DB, d time.Duration) error {
	return setLocal(tx, "statement_timeout", d)
}

func setLocal(tx *gorm.DB, setting string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	// set_config takes bind parameters, SET LOCAL does not.
	if err := tx.Exec("SELECT set_config(?, ?, true)", setting, fmt.Sprintf("%dms", d.Milliseconds())).Error; err != nil {
		return fmt.Errorf("setting %s: %w", setting, err)
	}
	return nil
}
