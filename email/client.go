// Package email sends newsletter emails through a Postmark compatible HTTP API.
package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sony/gobreaker"

	"newsletter-backend/config"
)

// FailureKind tells a caller whether retrying a failed send can succeed.
type FailureKind int

const (
	// Transient failures may succeed later: network errors, timeouts, 5xx.
	Transient FailureKind = iota + 1
	// Permanent failures never succeed for the same recipient: a malformed or
	// inactive address.
	Permanent
)

func (k FailureKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// SendError is returned by Client.Send for every failed send.
type SendError struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s email failure (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s email failure: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a SendError of kind Permanent.
func IsPermanent(err error) bool {
	var sendErr *SendError
	return errors.As(err, &sendErr) && sendErr.Kind == Permanent
}

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error
}

// Postmark error codes that reject the recipient rather than the request or
// the account.
const (
	codeInvalidEmailRequest = 300
	codeInactiveRecipient   = 406
)

type apiError struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

type sendEmailRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Client talks to the email API. Transient failures count towards opening its
// circuit breaker, permanent ones do not.
type Client struct {
	baseURL string
	sender  string
	token   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

func NewClient(cfg config.Email) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		sender:  cfg.Sender,
		token:   cfg.AuthorizationToken,
		timeout: cfg.Timeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "email-api",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || IsPermanent(err)
			},
		}),
	}
}

// Send posts one email. Every error it returns is a *SendError.
func (c *Client) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	if err := ctx.Err(); err != nil {
		return &SendError{Kind: Transient, Err: err}
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.post(ctx, sendEmailRequest{
			From:     c.sender,
			To:       recipient,
			Subject:  subject,
			HtmlBody: htmlBody,
			TextBody: textBody,
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &SendError{Kind: Transient, Err: err}
	}
	return err
}

// requestTimeout is the configured timeout, shortened to ctx's deadline. It
// reports false once that deadline has passed.
func (c *Client) requestTimeout(ctx context.Context) (time.Duration, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return c.timeout, true
	}
	left := time.Until(deadline)
	if left <= 0 {
		return 0, false
	}
	if c.timeout > 0 && c.timeout < left {
		return c.timeout, true
	}
	return left, true
}

func (c *Client) post(ctx context.Context, req sendEmailRequest) error {
	timeout, ok := c.requestTimeout(ctx)
	if !ok {
		return &SendError{Kind: Transient, Err: context.DeadlineExceeded}
	}

	agent := fiber.Post(c.baseURL + "/email")
	agent.Set("X-Postmark-Server-Token", c.token)
	agent.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	agent.JSON(req)
	agent.Timeout(timeout)

	if err := agent.Parse(); err != nil {
		return &SendError{Kind: Transient, Err: err}
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return &SendError{Kind: Transient, Err: errors.Join(errs...)}
	}

	switch {
	case code >= 200 && code < 300:
		return nil
	case (code == fiber.StatusBadRequest || code == fiber.StatusUnprocessableEntity) && rejectsRecipient(body):
		return &SendError{Kind: Permanent, StatusCode: code, Err: fmt.Errorf("recipient rejected: %s", body)}
	default:
		return &SendError{Kind: Transient, StatusCode: code, Err: fmt.Errorf("unexpected response: %s", body)}
	}
}

// rejectsRecipient reports whether an error body blames the recipient. Account
// and request level errors stay retryable.
func rejectsRecipient(body []byte) bool {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return false
	}
	return apiErr.ErrorCode == codeInvalidEmailRequest || apiErr.ErrorCode == codeInactiveRecipient
}
