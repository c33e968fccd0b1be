package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rivo/uniseg"
	"gorm.io/gorm"
)

const (
	SubscriberStatusPending   = "pending_confirmation"
	SubscriberStatusConfirmed = "confirmed"

	maxSubscriberNameLength = 256
	forbiddenNameCharacters = `/()"<>\{}`
)

var (
	ErrInvalidSubscriberName  = errors.New("invalid subscriber name")
	ErrInvalidSubscriberEmail = errors.New("invalid subscriber email")

	emailValidator = validator.New()
)

type Subscriber struct {
	Id           string    `json:"id" gorm:"primaryKey;type:uuid"`
	Email        string    `json:"email" gorm:"unique;not null"`
	Name         string    `json:"name" gorm:"not null"`
	SubscribedAt time.Time `json:"subscribed_at" gorm:"not null"`
	Status       string    `json:"status" gorm:"not null;index"`
}

func (Subscriber) TableName() string { return "subscriptions" }

func (subscriber *Subscriber) BeforeCreate(tx *gorm.DB) (err error) {
	if subscriber.Id == "" {
		subscriber.Id = uuid.NewString()
	}
	return
}

type SubscriptionToken struct {
	SubscriptionToken string     `gorm:"primaryKey"`
	SubscriberId      string     `gorm:"type:uuid;not null;index"`
	Subscriber        Subscriber `gorm:"foreignKey:SubscriberId;references:Id;constraint:OnDelete:CASCADE"`
}

// ParseSubscriberName trims the name and rejects blank names, names longer than
// 256 graphemes and names containing characters used in markup or paths.
func ParseSubscriberName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidSubscriberName)
	}
	if uniseg.GraphemeClusterCount(name) > maxSubscriberNameLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidSubscriberName, maxSubscriberNameLength)
	}
	if strings.ContainsAny(name, forbiddenNameCharacters) {
		return "", fmt.Errorf("%w: %q contains forbidden characters", ErrInvalidSubscriberName, name)
	}
	return name, nil
}

// ParseSubscriberEmail checks that email is a well-formed address.
func ParseSubscriberEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if err := emailValidator.Var(email, "required,email"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubscriberEmail, email)
	}
	return email, nil
}
