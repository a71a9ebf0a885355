package fieldsync

import (
	"context"
	"testing"
	"time"

	"github.com/agrinova/fieldops-backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerUpdatesSinceExcludesOwnWrites(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	createHarvest(t, co, testDeviceA, "a-loc-1", "batch-a1")
	createHarvest(t, co, testDeviceB, "b-loc-1", "batch-b1")

	pulled, err := co.ServerUpdatesSince(ctx, deviceScope(testDeviceA), models.RecordKindHarvest, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, pulled, 1)
	assert.Equal(t, models.ChangeTypeCreated, pulled[0].ChangeType)
	assert.Equal(t, int32(1), pulled[0].ServerVersion)
	assert.Contains(t, string(pulled[0].Payload), "Sari")

	// The other device sees the mirror image.
	pulledB, err := co.ServerUpdatesSince(ctx, deviceScope(testDeviceB), models.RecordKindHarvest, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, pulledB, 1)
	assert.NotEqual(t, pulled[0].ServerId, pulledB[0].ServerId)
}

func TestServerUpdatesSinceAnchorsAtAckedCursor(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()
	scope := deviceScope(testDeviceA)

	createHarvest(t, co, testDeviceB, "b-loc-1", "batch-b1")

	pulled, err := co.ServerUpdatesSince(ctx, scope, models.RecordKindHarvest, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, pulled, 1)

	// Ack past the pulled record, then pull again with a zero since: the
	// cursor anchor hides what was already acked.
	require.NoError(t, co.AckPull(ctx, scope, pulled[0].UpdatedAt.Add(time.Second), nil))

	pulled, err = co.ServerUpdatesSince(ctx, scope, models.RecordKindHarvest, time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, pulled)

	// An explicit since overrides the cursor.
	pulled, err = co.ServerUpdatesSince(ctx, scope, models.RecordKindHarvest, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	assert.Len(t, pulled, 1)
}

func TestAckPullNeverMovesBackwards(t *testing.T) {
	co, db := newTestCoordinator(t)
	ctx := context.Background()
	scope := deviceScope(testDeviceA)

	later := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	require.NoError(t, co.AckPull(ctx, scope, later, nil))
	require.NoError(t, co.AckPull(ctx, scope, earlier, nil))

	var cursor models.DeviceCursor
	require.NoError(t, db.Where("device_id = ?", testDeviceA).First(&cursor).Error)
	assert.True(t, cursor.LastAckedAt.Equal(later))

	// Replaying the same ack is harmless.
	require.NoError(t, co.AckPull(ctx, scope, later, nil))

	require.Error(t, co.AckPull(ctx, scope, time.Time{}, nil))
}

func TestPendingSyncItemsListsUnackedBatches(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()
	scope := deviceScope(testDeviceA)

	createHarvest(t, co, testDeviceA, "loc-1", "batch-1")
	createHarvest(t, co, testDeviceA, "loc-2", "batch-2")
	createHarvest(t, co, testDeviceB, "b-loc-1", "batch-b1")

	pending, err := co.PendingSyncItems(ctx, scope)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "batch-1", pending[0].BatchId)
	assert.Equal(t, "batch-2", pending[1].BatchId)
	assert.Equal(t, models.SyncTransactionStatusSucceeded, pending[0].Status)

	// Acking past both transactions clears the list.
	require.NoError(t, co.AckPull(ctx, scope, pending[1].CreatedAt.Add(time.Second), &pending[1].TransactionId))

	pending, err = co.PendingSyncItems(ctx, scope)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
