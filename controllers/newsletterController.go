package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"newsletter-backend/idempotency"
	"newsletter-backend/middlewares"
	"newsletter-backend/models"
	"newsletter-backend/newsletters"
	"newsletter-backend/outbox"
)

// IssuePublisher publishes an issue once per idempotency key.
type IssuePublisher interface {
	Publish(ctx context.Context, operatorID string, key idempotency.Key, form newsletters.Form) (*idempotency.Response, error)
}

type NewsletterController struct {
	db        *gorm.DB
	publisher IssuePublisher
}

func NewNewsletterController(db *gorm.DB, publisher IssuePublisher) *NewsletterController {
	return &NewsletterController{db: db, publisher: publisher}
}

// Publish expects middlewares.IdempotencyKey to run first.
func (nc *NewsletterController) Publish(c *fiber.Ctx) error {
	key, ok := middlewares.RequestIdempotencyKey(c)
	if !ok {
		return idempotency.ErrEmptyKey
	}

	var form newsletters.Form
	if err := c.BodyParser(&form); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	resp, err := nc.publisher.Publish(c.UserContext(), middlewares.UserID(c), key, form)
	if err != nil {
		return err
	}
	return writeSaved(c, resp)
}

// writeSaved writes resp as is, so a replay is identical to the first response.
func writeSaved(c *fiber.Ctx, resp *idempotency.Response) error {
	c.Status(resp.Status)
	for _, h := range resp.Headers {
		c.Response().Header.Add(h.Name, string(h.Value))
	}
	return c.Send(resp.Body)
}

func (nc *NewsletterController) GetIssue(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid newsletter issue id")
	}

	db := nc.db.WithContext(c.UserContext())
	var issue models.NewsletterIssue
	err := db.Where("newsletter_issue_id = ?", id).Take(&issue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "newsletter issue not found")
	}
	if err != nil {
		return err
	}

	pending, err := outbox.CountPending(c.UserContext(), db, id)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"issue":              issue,
		"pending_deliveries": pending,
	})
}
