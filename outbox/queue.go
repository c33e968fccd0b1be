package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"newsletter-backend/database"
	"newsletter-backend/models"
)

// ErrEmpty is returned by Dequeue when no unlocked task is available.
var ErrEmpty = errors.New("delivery queue is empty")

// Task is a delivery task locked by the caller. Exactly one of Complete, Release
// or Abort must be called to end it.
type Task interface {
	IssueID() string
	SubscriberEmail() string
	// Issue loads the content of the issue to deliver.
	Issue(ctx context.Context) (*models.NewsletterIssue, error)
	// Complete removes the task from the queue.
	Complete(ctx context.Context) error
	// Release keeps the task queued for a later attempt.
	Release(ctx context.Context) error
	// Abort rolls back everything done while the task was held.
	Abort() error
}

// Dequeuer hands out delivery tasks.
type Dequeuer interface {
	Dequeue(ctx context.Context) (Task, error)
}

// Queue dequeues tasks from Postgres. Each task holds an open transaction with
// the task row locked FOR UPDATE, so concurrent workers skip it.
type Queue struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewQueue returns a Queue whose transactions abort any statement or lock wait
// that exceeds timeout.
func NewQueue(db *gorm.DB, timeout time.Duration) *Queue {
	return &Queue{db: db, timeout: timeout}
}

// Dequeue locks one arbitrary task that no other transaction holds. It returns
// ErrEmpty when there is none. The task's transaction is bound to ctx.
func (q *Queue) Dequeue(ctx context.Context) (Task, error) {
	tx := q.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("beginning delivery transaction: %w", tx.Error)
	}

	if err := database.SetLocalStatementTimeout(tx, q.timeout); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := database.SetLocalLockTimeout(tx, q.timeout); err != nil {
		tx.Rollback()
		return nil, err
	}

	var row models.IssueDeliveryTask
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := tx.Commit().Error; err != nil {
			return nil, fmt.Errorf("committing empty dequeue: %w", err)
		}
		return nil, ErrEmpty
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("dequeuing delivery task: %w", err)
	}

	return &lockedTask{tx: tx, row: row}, nil
}

type lockedTask struct {
	tx  *gorm.DB
	row models.IssueDeliveryTask
}

func (t *lockedTask) IssueID() string         { return t.row.NewsletterIssueId }
func (t *lockedTask) SubscriberEmail() string { return t.row.SubscriberEmail }

func (t *lockedTask) Issue(ctx context.Context) (*models.NewsletterIssue, error) {
	var issue models.NewsletterIssue
	err := t.tx.WithContext(ctx).
		Where("newsletter_issue_id = ?", t.row.NewsletterIssueId).
		Take(&issue).Error
	if err != nil {
		return nil, fmt.Errorf("loading issue %s: %w", t.row.NewsletterIssueId, err)
	}
	return &issue, nil
}

func (t *lockedTask) Complete(ctx context.Context) error {
	err := t.tx.WithContext(ctx).
		Where("newsletter_issue_id = ? AND subscriber_email = ?", t.row.NewsletterIssueId, t.row.SubscriberEmail).
		Delete(&models.IssueDeliveryTask{}).Error
	if err != nil {
		t.tx.Rollback()
		return fmt.Errorf("deleting delivery task: %w", err)
	}
	if err := t.tx.Commit().Error; err != nil {
		return fmt.Errorf("committing delivery task: %w", err)
	}
	return nil
}

func (t *lockedTask) Release(context.Context) error {
	if err := t.tx.Commit().Error; err != nil {
		return fmt.Errorf("releasing delivery task: %w", err)
	}
	return nil
}

func (t *lockedTask) Abort() error {
	return t.tx.Rollback().Error
}
