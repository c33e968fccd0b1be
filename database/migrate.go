package database

import (
	"fmt"

	"gorm.io/gorm"

	"newsletter-backend/models"
)

// Migrate applies idempotent schema migrations:
// - AutoMigrate (tables/columns)
// - Indexes the reaper and worker scan
// - Foreign keys from the delivery queue to issues
// - CHECK constraints on idempotency keys and subscriber status
func Migrate(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&models.User{},
			&models.Subscriber{},
			&models.SubscriptionToken{},
			&models.NewsletterIssue{},
			&models.IssueDeliveryTask{},
			&models.IdempotencyRecord{},
		); err != nil {
			return fmt.Errorf("automigrate failed: %w", err)
		}

		indexes := []string{
			`CREATE INDEX IF NOT EXISTS idx_idempotency_created_at ON idempotency (created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions (status)`,
		}
		for _, stmt := range indexes {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index migration failed on: %s - %w", stmt, err)
			}
		}

		fk := `
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1
		FROM pg_constraint
		WHERE conrelid = 'issue_delivery_queue'::regclass
		  AND conname  = 'fk_issue_delivery_queue_issue'
	) THEN
		ALTER TABLE issue_delivery_queue
		ADD CONSTRAINT fk_issue_delivery_queue_issue
		FOREIGN KEY (newsletter_issue_id)
		REFERENCES newsletter_issues(newsletter_issue_id)
		ON UPDATE RESTRICT
		ON DELETE RESTRICT;
	END IF;
END $$;`
		if err := tx.Exec(fk).Error; err != nil {
			return fmt.Errorf("foreign key migration failed: %w", err)
		}

		checks := []string{
			`DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM pg_constraint
					WHERE conrelid = 'idempotency'::regclass
					  AND conname  = 'chk_idempotency_key_length'
				) THEN
					ALTER TABLE idempotency
					ADD CONSTRAINT chk_idempotency_key_length
					CHECK (char_length(idempotency_key) BETWEEN 1 AND 49);
				END IF;
			END $$;`,
			`DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM pg_constraint
					WHERE conrelid = 'subscriptions'::regclass
					  AND conname  = 'chk_subscriptions_status'
				) THEN
					ALTER TABLE subscriptions
					ADD CONSTRAINT chk_subscriptions_status
					CHECK (status IN ('pending_confirmation', 'confirmed'));
				END IF;
			END $$;`,
		}
		for _, stmt := range checks {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("check constraint migration failed: %w", err)
			}
		}

		return nil
	})
}
