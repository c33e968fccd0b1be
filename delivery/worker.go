// Package delivery drains the issue delivery queue by emailing each recipient.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"newsletter-backend/config"
	"newsletter-backend/email"
	"newsletter-backend/models"
	"newsletter-backend/outbox"
)

// Outcome is what one TryExecuteTask call did with the queue.
type Outcome int

const (
	// EmptyQueue means there was no unlocked task.
	EmptyQueue Outcome = iota + 1
	// Delivered means the email was accepted and the task removed.
	Delivered
	// SkippedInvalidAddress means the stored address is malformed and the task was removed unsent.
	SkippedInvalidAddress
	// RecipientRejected means the email API refused the message permanently and the task was removed.
	RecipientRejected
	// RetryLater means sending failed transiently and the task was left queued.
	RetryLater
)

func (o Outcome) String() string {
	switch o {
	case EmptyQueue:
		return "empty_queue"
	case Delivered:
		return "delivered"
	case SkippedInvalidAddress:
		return "skipped_invalid_address"
	case RecipientRejected:
		return "recipient_rejected"
	case RetryLater:
		return "retry_later"
	default:
		return "unknown"
	}
}

// Worker delivers queued issues one task at a time.
type Worker struct {
	queue        outbox.Dequeuer
	sender       email.Sender
	log          *zap.Logger
	idleBackoff  time.Duration
	errorBackoff time.Duration
	taskTimeout  time.Duration
}

func NewWorker(queue outbox.Dequeuer, sender email.Sender, cfg config.Worker, log *zap.Logger) *Worker {
	return &Worker{
		queue:        queue,
		sender:       sender,
		log:          log,
		idleBackoff:  cfg.IdleBackoff,
		errorBackoff: cfg.ErrorBackoff,
		taskTimeout:  cfg.TaskTimeout,
	}
}

// Run processes tasks until ctx is done. It moves straight to the next task
// after a terminal outcome, sleeps the idle backoff when the queue is empty, and
// sleeps the error backoff after a transient failure or an error.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("delivery worker started")
	for {
		if ctx.Err() != nil {
			w.log.Info("delivery worker stopped")
			return nil
		}

		outcome, err := w.TryExecuteTask(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() == nil {
				w.log.Error("delivery attempt failed", zap.Error(err))
			}
			wait = w.errorBackoff
		case outcome == EmptyQueue:
			wait = w.idleBackoff
		case outcome == RetryLater:
			wait = w.errorBackoff
		}

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}
}

// TryExecuteTask dequeues at most one task and attempts its delivery. When an
// error is returned the task's transaction has been rolled back and the task
// stays queued.
func (w *Worker) TryExecuteTask(ctx context.Context) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	ctx, span := otel.Tracer("delivery").Start(ctx, "delivery.try_execute_task")
	defer span.End()

	outcome, err := w.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("delivery.outcome", outcome.String()))
	return outcome, err
}

func (w *Worker) execute(ctx context.Context) (Outcome, error) {
	task, err := w.queue.Dequeue(ctx)
	if errors.Is(err, outbox.ErrEmpty) {
		return EmptyQueue, nil
	}
	if err != nil {
		return 0, err
	}

	log := w.log.With(
		zap.String("newsletter_issue_id", task.IssueID()),
		zap.String("subscriber_email", task.SubscriberEmail()))

	recipient, err := models.ParseSubscriberEmail(task.SubscriberEmail())
	if err != nil {
		log.Warn("skipping a subscriber with an invalid stored address", zap.Error(err))
		return complete(ctx, task, SkippedInvalidAddress)
	}

	issue, err := task.Issue(ctx)
	if err != nil {
		return 0, abort(task, err)
	}

	err = w.sender.Send(ctx, recipient, issue.Title, issue.HtmlContent, issue.TextContent)
	switch {
	case err == nil:
		return complete(ctx, task, Delivered)
	case email.IsPermanent(err):
		log.Warn("email API rejected the delivery, dropping it", zap.Error(err))
		return complete(ctx, task, RecipientRejected)
	default:
		log.Warn("failed to deliver issue, leaving it queued", zap.Error(err))
		if err := task.Release(ctx); err != nil {
			return RetryLater, err
		}
		return RetryLater, nil
	}
}

func complete(ctx context.Context, task outbox.Task, outcome Outcome) (Outcome, error) {
	if err := task.Complete(ctx); err != nil {
		return 0, err
	}
	return outcome, nil
}

func abort(task outbox.Task, cause error) error {
	if err := task.Abort(); err != nil {
		return fmt.Errorf("%w (rollback failed: %v)", cause, err)
	}
	return cause
}
