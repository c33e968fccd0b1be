//go:build integration

package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"newsletter-backend/dbtest"
	"newsletter-backend/idempotency"
	"newsletter-backend/models"
)

func key(t *testing.T, v string) idempotency.Key {
	t.Helper()
	k, err := idempotency.NewKey(v)
	require.NoError(t, err)
	return k
}

func TestStoreClaimSaveFetch(t *testing.T) {
	db := dbtest.New(t)
	operator := dbtest.AddOperator(t, db, "admin")
	store := idempotency.NewStore(db, time.Second)
	ctx := context.Background()
	k := key(t, "abc123")

	tx := db.Begin()
	outcome, err := store.Claim(ctx, tx, operator, k)
	require.NoError(t, err)
	assert.Equal(t, idempotency.Claimed, outcome)

	resp := &idempotency.Response{
		Status: 202,
		Headers: []idempotency.HeaderPair{
			{Name: "Content-Type", Value: []byte("application/json")},
			{Name: "Set-Cookie", Value: []byte("a=1")},
			{Name: "Set-Cookie", Value: []byte("b=2")},
		},
		Body: []byte(`{"ok":true}`),
	}
	require.NoError(t, store.Save(ctx, tx, operator, k, resp))

	// not visible before commit
	cached, err := store.FetchCached(ctx, operator, k)
	require.NoError(t, err)
	assert.Nil(t, cached)

	require.NoError(t, tx.Commit().Error)

	cached, err = store.FetchCached(ctx, operator, k)
	require.NoError(t, err)
	assert.Equal(t, resp, cached)

	tx = db.Begin()
	defer tx.Rollback()
	outcome, err = store.Claim(ctx, tx, operator, k)
	require.NoError(t, err)
	assert.Equal(t, idempotency.AlreadyProcessed, outcome)

	assert.ErrorIs(t, store.Save(ctx, tx, operator, k, resp), idempotency.ErrNotClaimed)
}

func TestStoreClaimTimesOutWhileAnotherRequestHoldsTheKey(t *testing.T) {
	db := dbtest.New(t)
	operator := dbtest.AddOperator(t, db, "admin")
	store := idempotency.NewStore(db, 200*time.Millisecond)
	ctx := context.Background()
	k := key(t, "abc123")

	first := db.Begin()
	defer first.Rollback()
	outcome, err := store.Claim(ctx, first, operator, k)
	require.NoError(t, err)
	require.Equal(t, idempotency.Claimed, outcome)

	second := db.Begin()
	started := time.Now()
	outcome, err = store.Claim(ctx, second, operator, k)
	require.NoError(t, err)
	assert.Equal(t, idempotency.AlreadyProcessed, outcome)
	assert.Less(t, time.Since(started), 5*time.Second)
	second.Rollback()

	cached, err := store.FetchCached(ctx, operator, k)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestStoreClaimFailsWhenCallerGivesUpWaiting(t *testing.T) {
	db := dbtest.New(t)
	operator := dbtest.AddOperator(t, db, "admin")
	store := idempotency.NewStore(db, 5*time.Second)
	k := key(t, "abc123")

	first := db.Begin()
	defer first.Rollback()
	_, err := store.Claim(context.Background(), first, operator, k)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	second := db.Begin()
	defer second.Rollback()
	outcome, err := store.Claim(ctx, second, operator, k)
	require.Error(t, err)
	assert.NotEqual(t, idempotency.AlreadyProcessed, outcome)
}

func TestStoreClaimSucceedsAfterHolderRollsBack(t *testing.T) {
	db := dbtest.New(t)
	operator := dbtest.AddOperator(t, db, "admin")
	store := idempotency.NewStore(db, 5*time.Second)
	ctx := context.Background()
	k := key(t, "abc123")

	first := db.Begin()
	_, err := store.Claim(ctx, first, operator, k)
	require.NoError(t, err)

	done := make(chan idempotency.Outcome, 1)
	second := db.Begin()
	defer second.Rollback()
	go func() {
		outcome, err := store.Claim(ctx, second, operator, k)
		assert.NoError(t, err)
		done <- outcome
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, first.Rollback().Error)

	select {
	case outcome := <-done:
		assert.Equal(t, idempotency.Claimed, outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("second claim did not finish")
	}
}

func TestReaperRemovesOnlyExpiredRecords(t *testing.T) {
	db := dbtest.New(t)
	operator := dbtest.AddOperator(t, db, "admin")
	store := idempotency.NewStore(db, time.Second)
	now := time.Now().UTC()

	require.NoError(t, db.Create(&[]models.IdempotencyRecord{
		{UserId: operator, IdempotencyKey: "old", CreatedAt: now.Add(-6 * 24 * time.Hour)},
		{UserId: operator, IdempotencyKey: "fresh", CreatedAt: now},
	}).Error)

	reaper := idempotency.NewReaper(store, 5*24*time.Hour, time.Hour, zap.NewNop())
	removed, err := reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var keys []string
	require.NoError(t, db.Model(&models.IdempotencyRecord{}).Pluck("idempotency_key", &keys).Error)
	assert.Equal(t, []string{"fresh"}, keys)
}

func TestKeyLengthIsCheckedBySchema(t *testing.T) {
	db := dbtest.New(t)
	operator := dbtest.AddOperator(t, db, "admin")

	err := db.Create(&models.IdempotencyRecord{
		UserId:         operator,
		IdempotencyKey: "",
		CreatedAt:      time.Now(),
	}).Error
	assert.Error(t, err)
}
