// Package newsletters publishes newsletter issues exactly once per idempotency key.
package newsletters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsletter-backend/database"
	"newsletter-backend/idempotency"
	"newsletter-backend/outbox"
)

var (
	// ErrInvalidIssue is returned for a form with blank content.
	ErrInvalidIssue = errors.New("invalid newsletter issue")
	// ErrConflictInProgress means another request holds the key and has not saved its response yet.
	ErrConflictInProgress = errors.New("a request with this idempotency key is still being processed")

	errAlreadyClaimed = errors.New("idempotency key already claimed")
)

// Form is the submitted content of an issue.
type Form struct {
	Title       string `json:"title" form:"title"`
	TextContent string `json:"text_content" form:"text_content"`
	HtmlContent string `json:"html_content" form:"html_content"`
}

func (f Form) validate() error {
	var missing []string
	if strings.TrimSpace(f.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(f.TextContent) == "" {
		missing = append(missing, "text_content")
	}
	if strings.TrimSpace(f.HtmlContent) == "" {
		missing = append(missing, "html_content")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidIssue, strings.Join(missing, ", "))
	}
	return nil
}

// IdempotencyStore is the part of idempotency.Store the publisher needs.
type IdempotencyStore interface {
	Claim(ctx context.Context, tx *gorm.DB, userID string, key idempotency.Key) (idempotency.Outcome, error)
	FetchCached(ctx context.Context, userID string, key idempotency.Key) (*idempotency.Response, error)
	Save(ctx context.Context, tx *gorm.DB, userID string, key idempotency.Key, resp *idempotency.Response) error
}

// IssueWriter enqueues an issue within a transaction.
type IssueWriter interface {
	EnqueueIssue(ctx context.Context, tx *gorm.DB, content outbox.IssueContent) (outbox.Enqueued, error)
}

// Accepted is the body of a successful publish response.
type Accepted struct {
	NewsletterIssueId string `json:"newsletter_issue_id"`
	Recipients        int64  `json:"recipients"`
	Message           string `json:"message"`
}

// Publisher claims the idempotency key, writes the issue and its delivery
// tasks, and saves the response, all in one transaction.
type Publisher struct {
	txm    database.TransactionManager
	store  IdempotencyStore
	writer IssueWriter
	log    *zap.Logger
}

func NewPublisher(txm database.TransactionManager, store IdempotencyStore, writer IssueWriter, log *zap.Logger) *Publisher {
	return &Publisher{txm: txm, store: store, writer: writer, log: log}
}

// Publish returns the response for (operatorID, key). The first call creates
// the issue; every later call with the same key returns the same response.
// ErrConflictInProgress is returned while the first call is still running.
func (p *Publisher) Publish(ctx context.Context, operatorID string, key idempotency.Key, form Form) (*idempotency.Response, error) {
	ctx, span := otel.Tracer("newsletters").Start(ctx, "newsletters.publish")
	defer span.End()
	span.SetAttributes(attribute.String("idempotency.key", key.String()))

	resp, err := p.publish(ctx, operatorID, key, form)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (p *Publisher) publish(ctx context.Context, operatorID string, key idempotency.Key, form Form) (*idempotency.Response, error) {
	if err := form.validate(); err != nil {
		return nil, err
	}

	var resp *idempotency.Response
	err := p.txm.WithTransaction(ctx, func(tx *gorm.DB) error {
		outcome, err := p.store.Claim(ctx, tx, operatorID, key)
		if err != nil {
			return err
		}
		if outcome == idempotency.AlreadyProcessed {
			return errAlreadyClaimed
		}

		enqueued, err := p.writer.EnqueueIssue(ctx, tx, outbox.IssueContent{
			Title: form.Title,
			Text:  form.TextContent,
			Html:  form.HtmlContent,
		})
		if err != nil {
			return err
		}

		resp, err = acceptedResponse(enqueued)
		if err != nil {
			return err
		}
		return p.store.Save(ctx, tx, operatorID, key, resp)
	})

	switch {
	case errors.Is(err, errAlreadyClaimed):
		return p.replay(ctx, operatorID, key)
	case err != nil:
		return nil, fmt.Errorf("publishing newsletter issue: %w", err)
	}

	p.log.Info("newsletter issue published",
		zap.String("operator_id", operatorID),
		zap.String("idempotency_key", key.String()))
	return resp, nil
}

func (p *Publisher) replay(ctx context.Context, operatorID string, key idempotency.Key) (*idempotency.Response, error) {
	cached, err := p.store.FetchCached(ctx, operatorID, key)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, ErrConflictInProgress
	}
	p.log.Info("replaying saved publish response",
		zap.String("operator_id", operatorID),
		zap.String("idempotency_key", key.String()))
	return cached, nil
}

func acceptedResponse(enqueued outbox.Enqueued) (*idempotency.Response, error) {
	body, err := json.Marshal(Accepted{
		NewsletterIssueId: enqueued.IssueID,
		Recipients:        enqueued.Recipients,
		Message:           "The newsletter issue has been accepted, emails will go out shortly.",
	})
	if err != nil {
		return nil, err
	}
	return &idempotency.Response{
		Status: fiber.StatusAccepted,
		Headers: []idempotency.HeaderPair{
			{Name: fiber.HeaderContentType, Value: []byte(fiber.MIMEApplicationJSON)},
			{Name: fiber.HeaderLocation, Value: []byte("/api/admin/newsletters/" + enqueued.IssueID)},
		},
		Body: body,
	}, nil
}
