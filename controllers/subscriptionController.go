package controllers

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsletter-backend/database"
	"newsletter-backend/email"
	"newsletter-backend/models"
	"newsletter-backend/utils"
)

const subscriptionTokenLength = 25

type SubscriptionController struct {
	db      *gorm.DB
	sender  email.Sender
	baseURL string
	log     *zap.Logger
}

func NewSubscriptionController(db *gorm.DB, sender email.Sender, baseURL string, log *zap.Logger) *SubscriptionController {
	return &SubscriptionController{
		db:      db,
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
	}
}

type subscribeRequest struct {
	Name  string `json:"name" form:"name"`
	Email string `json:"email" form:"email"`
}

// Subscribe registers a pending subscriber and emails a confirmation link.
// Runs inside middlewares.Tx so a failed email leaves nothing behind.
func (sc *SubscriptionController) Subscribe(c *fiber.Ctx) error {
	var data subscribeRequest
	if err := c.BodyParser(&data); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	name, err := models.ParseSubscriberName(data.Name)
	if err != nil {
		return err
	}
	address, err := models.ParseSubscriberEmail(data.Email)
	if err != nil {
		return err
	}

	tx := database.FromCtx(c, sc.db)

	var subscriber models.Subscriber
	err = tx.Where("email = ?", address).Take(&subscriber).Error
	switch {
	case err == nil && subscriber.Status == models.SubscriberStatusConfirmed:
		return c.JSON(fiber.Map{"message": "you are already subscribed"})
	case errors.Is(err, gorm.ErrRecordNotFound):
		subscriber = models.Subscriber{
			Email:        address,
			Name:         name,
			SubscribedAt: time.Now().UTC(),
			Status:       models.SubscriberStatusPending,
		}
		if err := tx.Create(&subscriber).Error; err != nil {
			return fmt.Errorf("inserting subscriber: %w", err)
		}
	case err != nil:
		return err
	}

	token, err := utils.RandomToken(subscriptionTokenLength)
	if err != nil {
		return err
	}
	if err := tx.Create(&models.SubscriptionToken{SubscriptionToken: token, SubscriberId: subscriber.Id}).Error; err != nil {
		return fmt.Errorf("storing subscription token: %w", err)
	}

	if err := sc.sendConfirmation(c, address, token); err != nil {
		sc.log.Warn("failed to send confirmation email", zap.String("subscriber_id", subscriber.Id), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "could not send the confirmation email")
	}

	return c.JSON(fiber.Map{"message": "check your inbox to confirm your subscription"})
}

func (sc *SubscriptionController) sendConfirmation(c *fiber.Ctx, address, token string) error {
	link := sc.baseURL + "/api/subscriptions/confirm?subscription_token=" + url.QueryEscape(token)
	html := fmt.Sprintf(`Welcome to our newsletter!<br />Click <a href="%s">here</a> to confirm your subscription.`, link)
	text := fmt.Sprintf("Welcome to our newsletter!\nVisit %s to confirm your subscription.", link)
	return sc.sender.Send(c.UserContext(), address, "Welcome!", html, text)
}

// Confirm marks the subscriber owning subscription_token as confirmed.
func (sc *SubscriptionController) Confirm(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Query("subscription_token"))
	if token == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing subscription_token")
	}

	tx := database.FromCtx(c, sc.db)

	var record models.SubscriptionToken
	err := tx.Where("subscription_token = ?", token).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.NewError(fiber.StatusUnauthorized, "unknown subscription token")
	}
	if err != nil {
		return err
	}

	err = tx.Model(&models.Subscriber{}).
		Where("id = ?", record.SubscriberId).
		Update("status", models.SubscriberStatusConfirmed).Error
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": "your subscription is confirmed"})
}
