package models

import (
	"time"

	"gorm.io/datatypes"
)

// IdempotencyRecord caches the response produced for (user, key).
// A row with a nil ResponseStatusCode has been claimed but not completed yet.
type IdempotencyRecord struct {
	UserId             string         `gorm:"primaryKey;type:uuid"`
	IdempotencyKey     string         `gorm:"primaryKey;size:49"`
	ResponseStatusCode *int16         `gorm:"type:smallint"`
	ResponseHeaders    datatypes.JSON `gorm:"type:jsonb"`
	ResponseBody       []byte         `gorm:"type:bytea"`
	CreatedAt          time.Time      `gorm:"not null;index"`
}

func (IdempotencyRecord) TableName() string { return "idempotency" }
