// Package outbox stores newsletter deliveries in the same transaction as the
// issue they belong to and hands them out one at a time to delivery workers.
package outbox

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"newsletter-backend/models"
)

// IssueContent is the content of a newsletter issue to publish.
type IssueContent struct {
	Title string
	Text  string
	Html  string
}

// Enqueued describes an issue written by EnqueueIssue.
type Enqueued struct {
	IssueID    string
	Recipients int64
}

// Writer records issues and their delivery tasks.
type Writer struct {
	now func() time.Time
}

func NewWriter() *Writer {
	return &Writer{now: time.Now}
}

// EnqueueIssue inserts the issue and one delivery task per confirmed subscriber
// using tx. Nothing is visible to workers until tx commits.
//
// The recipients are whoever is confirmed when the INSERT ... SELECT runs. A
// subscriber confirming concurrently may or may not be included.
func (w *Writer) EnqueueIssue(ctx context.Context, tx *gorm.DB, content IssueContent) (Enqueued, error) {
	tx = tx.WithContext(ctx)

	issue := models.NewsletterIssue{
		Title:       content.Title,
		TextContent: content.Text,
		HtmlContent: content.Html,
		PublishedAt: w.now().UTC(),
	}
	if err := tx.Create(&issue).Error; err != nil {
		return Enqueued{}, fmt.Errorf("inserting newsletter issue: %w", err)
	}

	res := tx.Exec(`INSERT INTO issue_delivery_queue (newsletter_issue_id, subscriber_email)
SELECT ?, email FROM subscriptions WHERE status = ?`, issue.Id, models.SubscriberStatusConfirmed)
	if res.Error != nil {
		return Enqueued{}, fmt.Errorf("enqueuing delivery tasks: %w", res.Error)
	}

	return Enqueued{IssueID: issue.Id, Recipients: res.RowsAffected}, nil
}

// CountPending returns how many deliveries of issueID are still queued.
func CountPending(ctx context.Context, db *gorm.DB, issueID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&models.IssueDeliveryTask{}).
		Where("newsletter_issue_id = ?", issueID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("counting pending deliveries: %w", err)
	}
	return n, nil
}
