package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewsletterIssue is immutable once created by a publish.
type NewsletterIssue struct {
	Id          string    `json:"id" gorm:"column:newsletter_issue_id;primaryKey;type:uuid"`
	Title       string    `json:"title" gorm:"not null"`
	TextContent string    `json:"text_content" gorm:"not null"`
	HtmlContent string    `json:"html_content" gorm:"not null"`
	PublishedAt time.Time `json:"published_at" gorm:"not null"`
}

func (NewsletterIssue) TableName() string { return "newsletter_issues" }

func (issue *NewsletterIssue) BeforeCreate(tx *gorm.DB) (err error) {
	if issue.Id == "" {
		issue.Id = uuid.NewString()
	}
	return
}

// IssueDeliveryTask is one pending delivery of an issue to one address.
// The row existing is the pending state; it is deleted once the delivery is terminal.
type IssueDeliveryTask struct {
	NewsletterIssueId string `gorm:"primaryKey;type:uuid"`
	SubscriberEmail   string `gorm:"primaryKey"`
}

func (IssueDeliveryTask) TableName() string { return "issue_delivery_queue" }
