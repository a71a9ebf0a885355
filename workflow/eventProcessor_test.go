package workflow

import (
	"encoding/json"
	"testing"

	"github.com/agrinova/fieldops-backend/config"
	"github.com/agrinova/fieldops-backend/models"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newWorkflowDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.HarvestDailySummary{},
		&models.IdempotencyKey{},
		&models.ChangeEventRecord{},
	))
	return db
}

func harvestEventJSON(t *testing.T, status, weightKg string, bunchCount int) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"estateId":     1,
		"divisionId":   1,
		"blockId":      7,
		"harvestDate":  "2026-03-10T00:00:00Z",
		"bunchCount":   bunchCount,
		"weightKg":     weightKg,
		"looseFruitKg": "2",
		"status":       status,
	})
	require.NoError(t, err)
	return raw
}

func summaryFor(t *testing.T, db *gorm.DB, blockId int) *models.HarvestDailySummary {
	t.Helper()
	var summary models.HarvestDailySummary
	require.NoError(t, db.Where("company_id = ? AND block_id = ?", "co-1", blockId).First(&summary).Error)
	return &summary
}

func TestApplySummaryDeltaCreatesAndAccumulates(t *testing.T) {
	db := newWorkflowDB(t)

	require.NoError(t, applySummaryDelta(db, config.PubSubMessage{
		CompanyId: "co-1",
		NewObj:    harvestEventJSON(t, "PENDING", "100", 40),
	}))
	require.NoError(t, applySummaryDelta(db, config.PubSubMessage{
		CompanyId: "co-1",
		NewObj:    harvestEventJSON(t, "PENDING", "50", 20),
	}))

	summary := summaryFor(t, db, 7)
	assert.Equal(t, 2, summary.RecordCount)
	assert.Equal(t, 60, summary.BunchCount)
	assert.True(t, summary.WeightKg.Equal(decimal.RequireFromString("150")))
}

func TestApplySummaryDeltaUpdateReplacesOldContribution(t *testing.T) {
	db := newWorkflowDB(t)

	require.NoError(t, applySummaryDelta(db, config.PubSubMessage{
		CompanyId: "co-1",
		NewObj:    harvestEventJSON(t, "PENDING", "100", 40),
	}))
	require.NoError(t, applySummaryDelta(db, config.PubSubMessage{
		CompanyId: "co-1",
		OldObj:    harvestEventJSON(t, "PENDING", "100", 40),
		NewObj:    harvestEventJSON(t, "PENDING", "120", 45),
	}))

	summary := summaryFor(t, db, 7)
	assert.Equal(t, 1, summary.RecordCount)
	assert.Equal(t, 45, summary.BunchCount)
	assert.True(t, summary.WeightKg.Equal(decimal.RequireFromString("120")))
}

func TestApplySummaryDeltaSoftDeleteRemovesContribution(t *testing.T) {
	db := newWorkflowDB(t)

	require.NoError(t, applySummaryDelta(db, config.PubSubMessage{
		CompanyId: "co-1",
		NewObj:    harvestEventJSON(t, "PENDING", "100", 40),
	}))
	require.NoError(t, applySummaryDelta(db, config.PubSubMessage{
		CompanyId: "co-1",
		OldObj:    harvestEventJSON(t, "PENDING", "100", 40),
		NewObj:    harvestEventJSON(t, "DELETED", "100", 40),
	}))

	summary := summaryFor(t, db, 7)
	assert.Equal(t, 0, summary.RecordCount)
	assert.Equal(t, 0, summary.BunchCount)
	assert.True(t, summary.WeightKg.IsZero())
}

func TestBeginIdempotencySkipsSucceededKey(t *testing.T) {
	db := newWorkflowDB(t)

	skip, err := BeginIdempotency(db, "co-1", "handler", "msg-1")
	require.NoError(t, err)
	assert.False(t, skip)
	require.NoError(t, MarkIdempotencySucceeded(db, "co-1", "handler", "msg-1"))

	skip, err = BeginIdempotency(db, "co-1", "handler", "msg-1")
	require.NoError(t, err)
	assert.True(t, skip)

	// A different message key is unaffected.
	skip, err = BeginIdempotency(db, "co-1", "handler", "msg-2")
	require.NoError(t, err)
	assert.False(t, skip)
}

func TestBeginIdempotencyRetriesFailedKey(t *testing.T) {
	db := newWorkflowDB(t)

	skip, err := BeginIdempotency(db, "co-1", "handler", "msg-1")
	require.NoError(t, err)
	require.False(t, skip)
	require.NoError(t, MarkIdempotencyFailed(db, "co-1", "handler", "msg-1", assert.AnError))

	skip, err = BeginIdempotency(db, "co-1", "handler", "msg-1")
	require.NoError(t, err)
	assert.False(t, skip)

	var key models.IdempotencyKey
	require.NoError(t, db.Where("message_id = ?", "msg-1").First(&key).Error)
	assert.Equal(t, models.IdempotencyStatusStarted, key.Status)
}
