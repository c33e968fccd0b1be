package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"newsletter-backend/database"
	"newsletter-backend/models"
)

// Outcome is the result of a claim attempt.
type Outcome int

const (
	// Claimed means the caller owns the key and must produce and save a response.
	Claimed Outcome = iota + 1
	// AlreadyProcessed means another request owns the key. Its response may not be saved yet.
	AlreadyProcessed
)

func (o Outcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case AlreadyProcessed:
		return "already_processed"
	default:
		return "unknown"
	}
}

// ErrNotClaimed is returned by Save when there is no pending claim to complete.
var ErrNotClaimed = errors.New("idempotency key was not claimed or is already completed")

// Store persists idempotency records in Postgres.
type Store struct {
	db          *gorm.DB
	lockTimeout time.Duration
	now         func() time.Time
}

// NewStore returns a Store. lockTimeout bounds how long Claim waits for a
// concurrent transaction holding the same key before giving up.
func NewStore(db *gorm.DB, lockTimeout time.Duration) *Store {
	return &Store{
		db:          db,
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

// Claim inserts an empty record for (userID, key) inside tx unless one exists.
//
// The primary key on (user_id, idempotency_key) makes the first insert win. A
// second transaction inserting the same key blocks until the first one ends, so
// the wait is bounded by lock_timeout and a timeout counts as AlreadyProcessed.
// Cancelling ctx while waiting is an error, not AlreadyProcessed. In both cases
// tx is aborted and must be rolled back by the caller.
func (s *Store) Claim(ctx context.Context, tx *gorm.DB, userID string, key Key) (Outcome, error) {
	tx = tx.WithContext(ctx)
	if err := database.SetLocalLockTimeout(tx, s.lockTimeout); err != nil {
		return 0, err
	}

	rec := models.IdempotencyRecord{
		UserId:         userID,
		IdempotencyKey: key.String(),
		CreatedAt:      s.now().UTC(),
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		if ctx.Err() == nil && database.IsLockTimeout(res.Error) {
			return AlreadyProcessed, nil
		}
		return 0, fmt.Errorf("claiming idempotency key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return AlreadyProcessed, nil
	}
	return Claimed, nil
}

// FetchCached returns the saved response for (userID, key), or nil when there is
// none yet.
func (s *Store) FetchCached(ctx context.Context, userID string, key Key) (*Response, error) {
	var rec models.IdempotencyRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key.String()).
		Where("response_status_code IS NOT NULL").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching saved response: %w", err)
	}

	headers, err := decodeHeaders(rec.ResponseHeaders)
	if err != nil {
		return nil, err
	}
	return &Response{
		Status:  int(*rec.ResponseStatusCode),
		Headers: headers,
		Body:    rec.ResponseBody,
	}, nil
}

// Save completes the claimed record with resp inside tx. The response becomes
// visible to other requests only when tx commits, together with whatever else tx
// wrote.
func (s *Store) Save(ctx context.Context, tx *gorm.DB, userID string, key Key, resp *Response) error {
	headers, err := encodeHeaders(resp.Headers)
	if err != nil {
		return err
	}
	status := int16(resp.Status)
	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	res := tx.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("user_id = ? AND idempotency_key = ?", userID, key.String()).
		Where("response_status_code IS NULL").
		Updates(map[string]any{
			"response_status_code": status,
			"response_headers":     datatypes.JSON(headers),
			"response_body":        body,
		})
	if res.Error != nil {
		return fmt.Errorf("saving response: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return ErrNotClaimed
	}
	return nil
}

// RemoveExpired deletes every record created before cutoff.
func (s *Store) RemoveExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.IdempotencyRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("removing expired idempotency records: %w", res.Error)
	}
	return res.RowsAffected, nil
}
