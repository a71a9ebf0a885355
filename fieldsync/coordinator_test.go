package fieldsync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/agrinova/fieldops-backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var batchBase = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func createHarvest(t *testing.T, co *Coordinator, deviceId, localId, batchId string) SyncItemResult {
	t.Helper()
	req := syncRequest(deviceId, batchId, models.ConflictResolutionLatestWins, RecordRevision{
		LocalId:     localId,
		Operation:   models.SyncOperationCreate,
		LastUpdated: batchBase,
		Payload:     harvestPayload(t, nil),
	})
	resp, err := co.SyncBatch(context.Background(), deviceScope(deviceId), models.RecordKindHarvest, req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.True(t, resp.Results[0].Success, "create should be accepted: %+v", resp.Results[0].Error)
	return resp.Results[0]
}

func TestSyncBatchCreateAssignsServerIdentity(t *testing.T) {
	co, db := newTestCoordinator(t)

	result := createHarvest(t, co, testDeviceA, "loc-1", "batch-1")
	assert.NotEmpty(t, result.ServerId)
	assert.Equal(t, int32(1), result.ServerVersion)
	assert.Equal(t, ItemStatusAccepted, result.Status)
	assert.False(t, result.HasConflict)

	var rec models.HarvestRecord
	require.NoError(t, db.Where("id = ?", result.ServerId).First(&rec).Error)
	assert.Equal(t, "loc-1", rec.LocalId)
	assert.Equal(t, testDeviceA, rec.LastWriterDeviceId)
	assert.Equal(t, models.RecordStatusPending, rec.Status)
	assert.Equal(t, int32(1), rec.ServerVersion)

	var entry models.SyncLedgerEntry
	require.NoError(t, db.Where("server_id = ?", result.ServerId).First(&entry).Error)
	assert.Equal(t, int32(1), entry.ServerVersion)

	var event models.ChangeEventRecord
	require.NoError(t, db.Where("server_id = ?", result.ServerId).First(&event).Error)
	assert.Equal(t, models.ChangeTypeCreated, event.ChangeType)
	assert.Equal(t, models.OutboxPublishStatusPending, event.PublishStatus)
}

func TestSyncBatchReplayReturnsStoredResponse(t *testing.T) {
	co, db := newTestCoordinator(t)

	rev := RecordRevision{
		LocalId:     "loc-1",
		Operation:   models.SyncOperationCreate,
		LastUpdated: batchBase,
		Payload:     harvestPayload(t, nil),
	}
	first, err := co.SyncBatch(context.Background(), deviceScope(testDeviceA), models.RecordKindHarvest,
		syncRequest(testDeviceA, "batch-1", models.ConflictResolutionLatestWins, rev))
	require.NoError(t, err)

	second, err := co.SyncBatch(context.Background(), deviceScope(testDeviceA), models.RecordKindHarvest,
		syncRequest(testDeviceA, "batch-1", models.ConflictResolutionLatestWins, rev))
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(firstJSON), string(secondJSON))

	var count int64
	require.NoError(t, db.Model(&models.HarvestRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(1), changeEventCount(t, db))
}

func TestSyncBatchResentPayloadIsNoop(t *testing.T) {
	co, db := newTestCoordinator(t)
	created := createHarvest(t, co, testDeviceA, "loc-1", "batch-1")

	// Same revision again under a new batch id: stale base, identical bytes.
	resp, err := co.SyncBatch(context.Background(), deviceScope(testDeviceA), models.RecordKindHarvest,
		syncRequest(testDeviceA, "batch-2", models.ConflictResolutionLatestWins, RecordRevision{
			LocalId:     "loc-1",
			Operation:   models.SyncOperationCreate,
			LastUpdated: batchBase,
			Payload:     harvestPayload(t, nil),
		}))
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Success)
	assert.Equal(t, created.ServerId, resp.Results[0].ServerId)
	assert.Equal(t, int32(1), resp.Results[0].ServerVersion)
	assert.False(t, resp.Results[0].HasConflict)

	assert.Equal(t, int64(1), changeEventCount(t, db))
}

func TestSyncBatchNoopRetrySurvivesBlockDeactivation(t *testing.T) {
	co, db := newTestCoordinator(t)
	created := createHarvest(t, co, testDeviceA, "loc-1", "batch-1")

	// The block is retired after the first accept; a retry of the same
	// revision must still be acknowledged, not re-validated.
	require.NoError(t, db.Model(&models.Block{}).Where("id = ?", 1).Update("active", false).Error)

	resp, err := co.SyncBatch(context.Background(), deviceScope(testDeviceA), models.RecordKindHarvest,
		syncRequest(testDeviceA, "batch-2", models.ConflictResolutionLatestWins, RecordRevision{
			LocalId:     "loc-1",
			Operation:   models.SyncOperationCreate,
			LastUpdated: batchBase,
			Payload:     harvestPayload(t, nil),
		}))
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Success)
	assert.Equal(t, created.ServerId, resp.Results[0].ServerId)
	assert.Equal(t, int32(1), resp.Results[0].ServerVersion)
	assert.Equal(t, int64(1), changeEventCount(t, db))
}

func TestSyncBatchCleanUpdateAdvancesVersion(t *testing.T) {
	co, db := newTestCoordinator(t)
	created := createHarvest(t, co, testDeviceA, "loc-1", "batch-1")

	resp, err := co.SyncBatch(context.Background(), deviceScope(testDeviceA), models.RecordKindHarvest,
		syncRequest(testDeviceA, "batch-2", models.ConflictResolutionLatestWins, RecordRevision{
			LocalId:           "loc-1",
			Operation:         models.SyncOperationUpdate,
			BaseServerVersion: 1,
			LastUpdated:       batchBase.Add(time.Minute),
			Payload:           harvestPayload(t, map[string]interface{}{"weightKg": "110"}),
		}))
	require.NoError(t, err)
	require.True(t, resp.Results[0].Success)
	assert.Equal(t, int32(2), resp.Results[0].ServerVersion)

	var rec models.HarvestRecord
	require.NoError(t, db.Where("id = ?", created.ServerId).First(&rec).Error)
	assert.Equal(t, "110", rec.WeightKg.String())
	assert.Equal(t, int32(2), rec.ServerVersion)
}

func TestSyncBatchLatestWinsConflict(t *testing.T) {
	co, db := newTestCoordinator(t)
	created := createHarvest(t, co, testDeviceA, "loc-1", "batch-a1")
	serverId := created.ServerId

	// Another device lands an update first.
	respB, err := co.SyncBatch(context.Background(), deviceScope(testDeviceB), models.RecordKindHarvest,
		syncRequest(testDeviceB, "batch-b1", models.ConflictResolutionLatestWins, RecordRevision{
			LocalId:           "b-loc-1",
			ServerId:          &serverId,
			Operation:         models.SyncOperationUpdate,
			BaseServerVersion: 1,
			LastUpdated:       batchBase.Add(2 * time.Minute),
			Payload:           harvestPayload(t, map[string]interface{}{"weightKg": "110"}),
		}))
	require.NoError(t, err)
	require.True(t, respB.Results[0].Success)
	require.Equal(t, int32(2), respB.Results[0].ServerVersion)

	// The original device edits from the stale base but with a later edit time.
	respA, err := co.SyncBatch(context.Background(), deviceScope(testDeviceA), models.RecordKindHarvest,
		syncRequest(testDeviceA, "batch-a2", models.ConflictResolutionLatestWins, RecordRevision{
			LocalId:           "loc-1",
			Operation:         models.SyncOperationUpdate,
			BaseServerVersion: 1,
			LastUpdated:       batchBase.Add(5 * time.Minute),
			Payload:           harvestPayload(t, map[string]interface{}{"weightKg": "120"}),
		}))
	require.NoError(t, err)

	result := respA.Results[0]
	assert.True(t, result.Success)
	assert.True(t, result.HasConflict)
	assert.Equal(t, int32(3), result.ServerVersion)
	assert.Contains(t, string(result.ConflictData), "110")
	assert.Equal(t, 1, respA.ConflictsDetected)

	var rec models.HarvestRecord
	require.NoError(t, db.Where("id = ?", serverId).First(&rec).Error)
	assert.Equal(t, "120", rec.WeightKg.String())
	assert.Equal(t, int32(3), rec.ServerVersion)
}

func TestSyncBatchRemoteWinsKeepsServerCopy(t *testing.T) {
	co, db := newTestCoordinator(t)
	created := createHarvest(t, co, testDeviceA, "loc-1", "batch-a1")
	serverId := created.ServerId

	respB, err := co.SyncBatch(context.Background(), deviceScope(testDeviceB), models.RecordKindHarvest,
		syncRequest(testDeviceB, "batch-b1", models.ConflictResolutionLatestWins, RecordRevision{
			LocalId:           "b-loc-1",
			ServerId:          &serverId,
			Operation:         models.SyncOperationUpdate,
			BaseServerVersion: 1,
			LastUpdated:       batchBase.Add(time.Minute),
			Payload:           harvestPayload(t, map[string]interface{}{"weightKg": "110"}),
		}))
	require.NoError(t, err)
	require.True(t, respB.Results[0].Success)

	resp, err := co.SyncBatch(context.Background(), deviceScope(testDeviceA), models.RecordKindHarvest,
		syncRequest(testDeviceA, "batch-a2", models.ConflictResolutionRemoteWins, RecordRevision{
			LocalId:           "loc-1",
			Operation:         models.SyncOperationUpdate,
			BaseServerVersion: 1,
			LastUpdated:       batchBase.Add(10 * time.Minute),
			Payload:           harvestPayload(t, map[string]interface{}{"weightKg": "120"}),
		}))
	require.NoError(t, err)

	result := resp.Results[0]
	assert.True(t, result.Success)
	assert.True(t, result.HasConflict)
	assert.Equal(t, int32(2), result.ServerVersion)

	var rec models.HarvestRecord
	require.NoError(t, db.Where("id = ?", serverId).First(&rec).Error)
	assert.Equal(t, "110", rec.WeightKg.String())
	assert.Equal(t, int32(2), rec.ServerVersion)
}

func TestSyncBatchManualStrategyHoldsConflict(t *testing.T) {
	co, db := newTestCoordinator(t)
	created := createHarvest(t, co, testDeviceA, "loc-1", "batch-a1")
	serverId := created.ServerId

	respB, err := co.SyncBatch(context.Background(), deviceScope(testDeviceB), models.RecordKindHarvest,
		syncRequest(testDeviceB, "batch-b1", models.ConflictResolutionLatestWins, RecordRevision{
			LocalId:           "b-loc-1",
			ServerId:          &serverId,
			Operation:         models.SyncOperationUpdate,
			BaseServerVersion: 1,
			LastUpdated:       batchBase.Add(time.Minute),
			Payload:           harvestPayload(t, map[string]interface{}{"weightKg": "110"}),
		}))
	require.NoError(t, err)
	require.True(t, respB.Results[0].Success)

	resp, err := co.SyncBatch(context.Background(), deviceScope(testDeviceA), models.RecordKindHarvest,
		syncRequest(testDeviceA, "batch-a2", models.ConflictResolutionManual, RecordRevision{
			LocalId:           "loc-1",
			Operation:         models.SyncOperationUpdate,
			BaseServerVersion: 1,
			LastUpdated:       batchBase.Add(5 * time.Minute),
			Payload:           harvestPayload(t, map[string]interface{}{"weightKg": "120"}),
		}))
	require.NoError(t, err)

	result := resp.Results[0]
	assert.False(t, result.Success)
	assert.Equal(t, ItemStatusHeld, result.Status)
	assert.True(t, result.HasConflict)
	assert.Equal(t, 1, resp.RecordsFailed)
	assert.Equal(t, 1, resp.ConflictsDetected)

	// The held revision echoed back is the client's; the server copy is
	// reachable via ServerVersion and pull.
	assert.Contains(t, string(result.ConflictData), "120")
	assert.NotContains(t, string(result.ConflictData), "110")

	// Nothing applied, version untouched.
	var rec models.HarvestRecord
	require.NoError(t, db.Where("id = ?", serverId).First(&rec).Error)
	assert.Equal(t, "110", rec.WeightKg.String())
	assert.Equal(t, int32(2), rec.ServerVersion)

	var conflict models.SyncConflict
	require.NoError(t, db.Where("server_id = ?", serverId).First(&conflict).Error)
	assert.Equal(t, models.ConflictStatusPending, conflict.Status)
	assert.Equal(t, int32(2), conflict.BaseServerVersion)
	assert.Contains(t, string(conflict.ClientData), "120")
	assert.Contains(t, string(conflict.ServerData), "110")
}

func TestResolveConflictAcceptLocalAppliesClientCopy(t *testing.T) {
	co, db := newTestCoordinator(t)
	created := createHarvest(t, co, testDeviceA, "loc-1", "batch-a1")
	serverId := created.ServerId

	_, err := co.SyncBatch(context.Background(), deviceScope(testDeviceA), models.RecordKindHarvest,
		syncRequest(testDeviceA, "batch-a2", models.ConflictResolutionManual, RecordRevision{
			LocalId:           "loc-1",
			Operation:         models.SyncOperationUpdate,
			BaseServerVersion: 0,
			LastUpdated:       batchBase.Add(5 * time.Minute),
			Payload:           harvestPayload(t, map[string]interface{}{"weightKg": "120"}),
		}))
	require.NoError(t, err)

	var conflict models.SyncConflict
	require.NoError(t, db.Where("server_id = ?", serverId).First(&conflict).Error)

	resolved, err := co.ResolveConflict(context.Background(), conflict.ID, ResolveAcceptLocal, "estate.manager")
	require.NoError(t, err)
	assert.Equal(t, models.ConflictStatusResolved, resolved.Status)

	var rec models.HarvestRecord
	require.NoError(t, db.Where("id = ?", serverId).First(&rec).Error)
	assert.Equal(t, "120", rec.WeightKg.String())
	assert.Equal(t, int32(2), rec.ServerVersion)

	// Settling twice is rejected.
	_, err = co.ResolveConflict(context.Background(), conflict.ID, ResolveAcceptLocal, "estate.manager")
	assert.Error(t, err)
}

func TestSyncBatchPartialFailureIsolation(t *testing.T) {
	co, db := newTestCoordinator(t)

	resp, err := co.SyncBatch(context.Background(), deviceScope(testDeviceA), models.RecordKindHarvest,
		syncRequest(testDeviceA, "batch-1", models.ConflictResolutionLatestWins,
			RecordRevision{
				LocalId:     "loc-good",
				Operation:   models.SyncOperationCreate,
				LastUpdated: batchBase,
				Payload:     harvestPayload(t, nil),
			},
			RecordRevision{
				LocalId:     "loc-bad",
				Operation:   models.SyncOperationCreate,
				LastUpdated: batchBase,
				Payload:     harvestPayload(t, map[string]interface{}{"blockId": 999}),
			},
		))
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, 2, resp.RecordsProcessed)
	assert.Equal(t, 1, resp.RecordsSuccessful)
	assert.Equal(t, 1, resp.RecordsFailed)

	byLocal := map[string]SyncItemResult{}
	for _, r := range resp.Results {
		byLocal[r.LocalId] = r
	}
	assert.True(t, byLocal["loc-good"].Success)
	require.NotNil(t, byLocal["loc-bad"].Error)
	assert.Equal(t, ErrCodeInvalidReference, byLocal["loc-bad"].Error.Code)

	var count int64
	require.NoError(t, db.Model(&models.HarvestRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSyncBatchScopeViolationRejected(t *testing.T) {
	co, _ := newTestCoordinator(t)

	resp, err := co.SyncBatch(context.Background(), deviceScope(testDeviceA), models.RecordKindHarvest,
		syncRequest(testDeviceA, "batch-1", models.ConflictResolutionLatestWins, RecordRevision{
			LocalId:     "loc-1",
			Operation:   models.SyncOperationCreate,
			LastUpdated: batchBase,
			Payload:     harvestPayload(t, map[string]interface{}{"estateId": 42}),
		}))
	require.NoError(t, err)
	require.NotNil(t, resp.Results[0].Error)
	assert.Equal(t, ErrCodeScopeViolation, resp.Results[0].Error.Code)
}

func TestDeleteIsSoftAndVersioned(t *testing.T) {
	co, db := newTestCoordinator(t)
	created := createHarvest(t, co, testDeviceA, "loc-1", "batch-1")

	resp, err := co.SyncBatch(context.Background(), deviceScope(testDeviceA), models.RecordKindHarvest,
		syncRequest(testDeviceA, "batch-2", models.ConflictResolutionLatestWins, RecordRevision{
			LocalId:           "loc-1",
			Operation:         models.SyncOperationDelete,
			BaseServerVersion: 1,
			LastUpdated:       batchBase.Add(time.Minute),
		}))
	require.NoError(t, err)
	require.True(t, resp.Results[0].Success)
	assert.Equal(t, int32(2), resp.Results[0].ServerVersion)

	var rec models.HarvestRecord
	require.NoError(t, db.Where("id = ?", created.ServerId).First(&rec).Error)
	assert.Equal(t, models.RecordStatusDeleted, rec.Status)
	assert.Equal(t, int32(2), rec.ServerVersion)
}

func TestSyncBatchMalformedPayloadRejected(t *testing.T) {
	co, _ := newTestCoordinator(t)

	resp, err := co.SyncBatch(context.Background(), deviceScope(testDeviceA), models.RecordKindHarvest,
		syncRequest(testDeviceA, "batch-1", models.ConflictResolutionLatestWins, RecordRevision{
			LocalId:     "loc-1",
			Operation:   models.SyncOperationCreate,
			LastUpdated: batchBase,
			Payload:     json.RawMessage(`{"weightKg":`),
		}))
	require.NoError(t, err)
	require.NotNil(t, resp.Results[0].Error)
	assert.Equal(t, ErrCodeMalformedPayload, resp.Results[0].Error.Code)
}

func TestSyncBatchBatchContainerFlattened(t *testing.T) {
	co, db := newTestCoordinator(t)

	resp, err := co.SyncBatch(context.Background(), deviceScope(testDeviceA), models.RecordKindHarvest,
		syncRequest(testDeviceA, "batch-1", models.ConflictResolutionLatestWins, RecordRevision{
			LocalId:   "container",
			Operation: models.SyncOperationBatch,
			Children: []RecordRevision{
				{LocalId: "loc-1", Operation: models.SyncOperationCreate, LastUpdated: batchBase, Payload: harvestPayload(t, nil)},
				{LocalId: "loc-2", Operation: models.SyncOperationCreate, LastUpdated: batchBase, Payload: harvestPayload(t, map[string]interface{}{"workerName": "Budi"})},
			},
		}))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.RecordsProcessed)
	assert.Equal(t, 2, resp.RecordsSuccessful)

	var count int64
	require.NoError(t, db.Model(&models.HarvestRecord{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}
