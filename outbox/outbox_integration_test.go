//go:build integration

package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"newsletter-backend/dbtest"
	"newsletter-backend/models"
	"newsletter-backend/outbox"
)

var content = outbox.IssueContent{Title: "Weekly", Text: "plain", Html: "<p>html</p>"}

func TestEnqueueIssueTargetsConfirmedSubscribers(t *testing.T) {
	db := dbtest.New(t)
	dbtest.AddSubscriber(t, db, "a@example.com", models.SubscriberStatusConfirmed)
	dbtest.AddSubscriber(t, db, "b@example.com", models.SubscriberStatusConfirmed)
	dbtest.AddSubscriber(t, db, "pending@example.com", models.SubscriberStatusPending)

	var enqueued outbox.Enqueued
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		enqueued, err = outbox.NewWriter().EnqueueIssue(context.Background(), tx, content)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), enqueued.Recipients)
	var emails []string
	require.NoError(t, db.Model(&models.IssueDeliveryTask{}).
		Where("newsletter_issue_id = ?", enqueued.IssueID).
		Order("subscriber_email").
		Pluck("subscriber_email", &emails).Error)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, emails)

	pending, err := outbox.CountPending(context.Background(), db, enqueued.IssueID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)
}

func TestEnqueueIssueIsAllOrNothing(t *testing.T) {
	db := dbtest.New(t)
	dbtest.AddSubscriber(t, db, "a@example.com", models.SubscriberStatusConfirmed)

	errLater := errors.New("failure after enqueue")
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := outbox.NewWriter().EnqueueIssue(context.Background(), tx, content); err != nil {
			return err
		}
		return errLater
	})
	require.ErrorIs(t, err, errLater)

	assert.Zero(t, dbtest.CountRows(t, db, &models.NewsletterIssue{}))
	assert.Zero(t, dbtest.CountRows(t, db, &models.IssueDeliveryTask{}))
}

func enqueue(t *testing.T, db *gorm.DB, emails ...string) string {
	t.Helper()
	for _, e := range emails {
		dbtest.AddSubscriber(t, db, e, models.SubscriberStatusConfirmed)
	}
	var enqueued outbox.Enqueued
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		enqueued, err = outbox.NewWriter().EnqueueIssue(context.Background(), tx, content)
		return err
	}))
	return enqueued.IssueID
}

func TestDequeueSkipsLockedTasks(t *testing.T) {
	db := dbtest.New(t)
	issueID := enqueue(t, db, "a@example.com", "b@example.com")
	queue := outbox.NewQueue(db, 5*time.Second)
	ctx := context.Background()

	first, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	second, err := queue.Dequeue(ctx)
	require.NoError(t, err)

	assert.Equal(t, issueID, first.IssueID())
	assert.NotEqual(t, first.SubscriberEmail(), second.SubscriberEmail())

	_, err = queue.Dequeue(ctx)
	assert.ErrorIs(t, err, outbox.ErrEmpty)

	issue, err := first.Issue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Weekly", issue.Title)

	require.NoError(t, first.Complete(ctx))
	require.NoError(t, second.Release(ctx))

	assert.Equal(t, int64(1), dbtest.CountRows(t, db, &models.IssueDeliveryTask{}))

	again, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.SubscriberEmail(), again.SubscriberEmail())
	require.NoError(t, again.Abort())
	assert.Equal(t, int64(1), dbtest.CountRows(t, db, &models.IssueDeliveryTask{}))
}

func TestDequeueOnEmptyQueue(t *testing.T) {
	db := dbtest.New(t)
	queue := outbox.NewQueue(db, time.Second)

	_, err := queue.Dequeue(context.Background())
	assert.ErrorIs(t, err, outbox.ErrEmpty)
}
