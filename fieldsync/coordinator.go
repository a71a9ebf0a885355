package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agrinova/fieldops-backend/config"
	"github.com/agrinova/fieldops-backend/models"
	"github.com/agrinova/fieldops-backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const syncModule = "fieldsync"

// errVersionRace signals that the ledger CAS lost; the item transaction rolls
// back and the item is re-detected once before giving up.
var errVersionRace = errors.New("server version moved during apply")

// Coordinator runs batch syncs. Each item gets its own database transaction
// so one rejected record never poisons its batchmates, and the ledger CAS
// inside that transaction is the single point where a version advances.
type Coordinator struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Ledger Ledger
	Stores map[models.RecordKind]RecordStore
	Hub    *Hub
}

func NewCoordinator(db *gorm.DB, hub *Hub) *Coordinator {
	return &Coordinator{
		DB:     db,
		Logger: config.GetLogger(),
		Stores: map[models.RecordKind]RecordStore{
			models.RecordKindHarvest: HarvestStore{},
			models.RecordKindGateLog: GateLogStore{},
		},
		Hub: hub,
	}
}

// SyncBatch applies one device batch. Resubmitting the same
// (device, batchId, kind) replays the stored response instead of touching
// record state again.
func (c *Coordinator) SyncBatch(ctx context.Context, scope *DeviceScope, kind models.RecordKind, req *SyncRequest) (*SyncResponse, error) {
	store, ok := c.Stores[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported record kind %s", kind)
	}
	if req.DeviceId != scope.DeviceId {
		return nil, errors.New("deviceId does not match the authenticated device")
	}
	if !req.ConflictResolution.Valid() {
		return nil, fmt.Errorf("unknown conflict resolution strategy %q", req.ConflictResolution)
	}

	txn, replay, err := c.beginBatch(ctx, scope, kind, req)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	// The per-item CAS already guarantees correctness; the lock just keeps a
	// device's concurrent retries from burning their own retry budget.
	if release, lockErr := utils.DeviceLock(ctx, scope.DeviceId, "SyncBatch", syncModule, "SyncBatch"); lockErr == nil {
		defer release()
	} else {
		c.Logger.WithFields(logrus.Fields{
			"module":   syncModule,
			"deviceId": scope.DeviceId,
			"batchId":  req.BatchId,
		}).Warn("proceeding without device lock: ", lockErr)
	}

	flat := FlattenAndSort(req.Records)
	results := make([]SyncItemResult, 0, len(flat))
	events := make([]ChangeEvent, 0, len(flat))
	for i := range flat {
		result, event := c.processItem(ctx, store, scope, req.ConflictResolution, &flat[i])
		results = append(results, result)
		if event != nil {
			events = append(events, *event)
		}
	}

	resp := &SyncResponse{
		TransactionId:   txn.TransactionId,
		ServerTimestamp: time.Now().UTC(),
		Results:         results,
	}
	for _, r := range results {
		resp.RecordsProcessed++
		if r.Success {
			resp.RecordsSuccessful++
		} else {
			resp.RecordsFailed++
		}
		if r.HasConflict {
			resp.ConflictsDetected++
		}
	}
	resp.Success = resp.RecordsFailed == 0

	if err := c.completeBatch(ctx, txn, resp); err != nil {
		return nil, err
	}
	if c.Hub != nil {
		for _, event := range events {
			c.Hub.Publish(event)
		}
	}
	return resp, nil
}

// beginBatch claims the (device, batch, kind) slot. A SUCCEEDED row short
// circuits into a replay of the stored response; a STARTED row belongs to an
// attempt that died mid-batch and is safe to take over because every item is
// individually idempotent.
func (c *Coordinator) beginBatch(ctx context.Context, scope *DeviceScope, kind models.RecordKind, req *SyncRequest) (*models.SyncTransaction, *SyncResponse, error) {
	txn := models.SyncTransaction{
		TransactionId:   uuid.NewString(),
		DeviceId:        scope.DeviceId,
		BatchId:         req.BatchId,
		RecordKind:      kind,
		CompanyId:       scope.CompanyId,
		ClientTimestamp: req.ClientTimestamp,
		Status:          models.SyncTransactionStatusStarted,
	}
	err := c.DB.WithContext(ctx).Create(&txn).Error
	if err == nil {
		return &txn, nil, nil
	}
	if !models.IsDuplicateKeyErr(err) {
		return nil, nil, err
	}

	var existing models.SyncTransaction
	if err := c.DB.WithContext(ctx).
		Where("device_id = ? AND batch_id = ? AND record_kind = ?", scope.DeviceId, req.BatchId, kind).
		First(&existing).Error; err != nil {
		return nil, nil, err
	}
	if existing.Status == models.SyncTransactionStatusSucceeded {
		var replay SyncResponse
		if err := json.Unmarshal(existing.ResultsJSON, &replay); err != nil {
			return nil, nil, err
		}
		return nil, &replay, nil
	}
	return &existing, nil, nil
}

func (c *Coordinator) completeBatch(ctx context.Context, txn *models.SyncTransaction, resp *SyncResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.DB.WithContext(ctx).Model(&models.SyncTransaction{}).
		Where("transaction_id = ?", txn.TransactionId).
		Updates(map[string]interface{}{
			"status":             models.SyncTransactionStatusSucceeded,
			"results_json":       raw,
			"records_processed":  resp.RecordsProcessed,
			"records_successful": resp.RecordsSuccessful,
			"records_failed":     resp.RecordsFailed,
			"conflicts_detected": resp.ConflictsDetected,
		}).Error
}

// processItem runs one revision, retrying exactly once when the ledger CAS
// loses to a concurrent writer.
func (c *Coordinator) processItem(ctx context.Context, store RecordStore, scope *DeviceScope, strategy models.ConflictResolution, rev *RecordRevision) (SyncItemResult, *ChangeEvent) {
	for attempt := 0; attempt < 2; attempt++ {
		result, event, err := c.applyItem(ctx, store, scope, strategy, rev)
		if err == nil {
			return result, event
		}
		if errors.Is(err, errVersionRace) {
			continue
		}
		config.LogError(c.Logger, syncModule, "processItem", "failed to apply sync item", rev.LocalId, err)
		return rejected(rev, &ItemError{Code: ErrCodeSaveError, Message: err.Error()}), nil
	}
	return rejected(rev, &ItemError{
		Code:    ErrCodeVersionRace,
		Message: "server version changed twice while applying; pull the latest copy and resubmit",
	}), nil
}

func rejected(rev *RecordRevision, itemErr *ItemError) SyncItemResult {
	return SyncItemResult{LocalId: rev.LocalId, Status: ItemStatusRejected, Error: itemErr}
}

func (c *Coordinator) applyItem(ctx context.Context, store RecordStore, scope *DeviceScope, strategy models.ConflictResolution, rev *RecordRevision) (SyncItemResult, *ChangeEvent, error) {
	var result SyncItemResult
	var event *ChangeEvent

	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, itemErr, err := c.resolveEntry(ctx, tx, store.Kind(), scope.DeviceId, rev)
		if err != nil {
			return err
		}
		if itemErr != nil {
			result = rejected(rev, itemErr)
			return nil
		}

		current, err := store.Current(ctx, tx, entry.ServerId)
		if err != nil {
			return err
		}

		canonical, itemErr := c.incomingPayload(store, rev, current)
		if itemErr != nil {
			result = rejected(rev, itemErr)
			return nil
		}
		classification := Detect(current, rev, canonical)

		// A retry of an already-applied revision is acknowledged as-is.
		// Master data may have changed since the first accept; re-validating
		// here would reject a write the server has already taken.
		if classification == ClassificationDuplicateNoop {
			result = SyncItemResult{
				LocalId:       rev.LocalId,
				ServerId:      entry.ServerId,
				Success:       true,
				Status:        ItemStatusAccepted,
				ServerVersion: current.Version,
			}
			return nil
		}

		if rev.Operation != models.SyncOperationDelete {
			if itemErr := store.Validate(ctx, tx, scope, canonical); itemErr != nil {
				result = rejected(rev, itemErr)
				return nil
			}
		}

		switch classification {
		case ClassificationNew:
			version, err := c.persist(ctx, tx, store, scope, rev, entry.ServerId, entry.ServerVersion, canonical, models.ChangeTypeCreated, nil)
			if err != nil {
				return err
			}
			result = SyncItemResult{
				LocalId:       rev.LocalId,
				ServerId:      entry.ServerId,
				Success:       true,
				Status:        ItemStatusAccepted,
				ServerVersion: version,
			}
			event = &ChangeEvent{Kind: store.Kind(), ServerId: entry.ServerId, ServerVersion: version, ChangeType: models.ChangeTypeCreated}
			return nil

		case ClassificationCleanUpdate:
			version, err := c.persist(ctx, tx, store, scope, rev, entry.ServerId, current.Version, canonical, models.ChangeTypeUpdated, current.Payload)
			if err != nil {
				return err
			}
			result = SyncItemResult{
				LocalId:       rev.LocalId,
				ServerId:      entry.ServerId,
				Success:       true,
				Status:        ItemStatusAccepted,
				ServerVersion: version,
			}
			event = &ChangeEvent{Kind: store.Kind(), ServerId: entry.ServerId, ServerVersion: version, ChangeType: models.ChangeTypeUpdated}
			return nil
		}

		// Conflict.
		effective := strategy
		if config.ForceManualReviewFor(string(store.Kind())) {
			effective = models.ConflictResolutionManual
		}

		resolution := Resolve(effective, rev, canonical, current)
		switch resolution.Outcome {
		case OutcomeApplyLocal:
			payload, itemErr := store.Canonicalize(resolution.Payload)
			if itemErr != nil {
				result = rejected(rev, itemErr)
				return nil
			}
			version, err := c.persist(ctx, tx, store, scope, rev, entry.ServerId, current.Version, payload, models.ChangeTypeUpdated, current.Payload)
			if err != nil {
				return err
			}
			result = SyncItemResult{
				LocalId:       rev.LocalId,
				ServerId:      entry.ServerId,
				Success:       true,
				Status:        ItemStatusAccepted,
				ServerVersion: version,
				HasConflict:   true,
				ConflictData:  current.Payload,
			}
			event = &ChangeEvent{Kind: store.Kind(), ServerId: entry.ServerId, ServerVersion: version, ChangeType: models.ChangeTypeUpdated}
			return nil

		case OutcomeKeepServer:
			result = SyncItemResult{
				LocalId:       rev.LocalId,
				ServerId:      entry.ServerId,
				Success:       true,
				Status:        ItemStatusAccepted,
				ServerVersion: current.Version,
				HasConflict:   true,
				ConflictData:  current.Payload,
			}
			return nil

		default: // OutcomeManualHold
			if err := c.holdConflict(ctx, tx, store.Kind(), scope, rev, entry.ServerId, current, canonical, effective); err != nil {
				return err
			}
			// The held (losing) revision is the client's; the server copy
			// stays reachable through ServerVersion and pull.
			result = SyncItemResult{
				LocalId:       rev.LocalId,
				ServerId:      entry.ServerId,
				Status:        ItemStatusHeld,
				ServerVersion: current.Version,
				HasConflict:   true,
				ConflictData:  canonical,
			}
			event = &ChangeEvent{Kind: store.Kind(), ServerId: entry.ServerId, ServerVersion: current.Version, ChangeType: models.ChangeTypeConflictHeld}
			return nil
		}
	})
	if err != nil {
		return SyncItemResult{}, nil, err
	}
	return result, event, nil
}

// persist writes the payload row, advances the ledger and records the outbox
// event in one transaction. The Advance is the linearization point.
func (c *Coordinator) persist(ctx context.Context, tx *gorm.DB, store RecordStore, scope *DeviceScope, rev *RecordRevision, serverId string, from int32, payload json.RawMessage, changeType models.ChangeType, oldObj json.RawMessage) (int32, error) {
	to := from + 1
	err := store.Apply(ctx, tx, ApplyWrite{
		ServerId:    serverId,
		LocalId:     rev.LocalId,
		DeviceId:    scope.DeviceId,
		CompanyId:   scope.CompanyId,
		Version:     to,
		Payload:     payload,
		LastUpdated: rev.LastUpdated,
	})
	if err != nil {
		return 0, err
	}
	advanced, err := c.Ledger.Advance(ctx, tx, store.Kind(), serverId, from, to)
	if err != nil {
		return 0, err
	}
	if !advanced {
		return 0, errVersionRace
	}
	if err := models.WriteChangeEvent(ctx, tx, scope.CompanyId, scope.DeviceId, store.Kind(), serverId, to, changeType, oldObj, payload); err != nil {
		return 0, err
	}
	return to, nil
}

func (c *Coordinator) resolveEntry(ctx context.Context, tx *gorm.DB, kind models.RecordKind, deviceId string, rev *RecordRevision) (*models.SyncLedgerEntry, *ItemError, error) {
	if rev.ServerId != nil && *rev.ServerId != "" {
		entry, err := c.Ledger.ResolveServerId(ctx, tx, kind, *rev.ServerId)
		if err != nil {
			return nil, nil, err
		}
		if entry == nil {
			return nil, &ItemError{Code: ErrCodeInvalidReference, Message: fmt.Sprintf("unknown server id %s", *rev.ServerId)}, nil
		}
		return entry, nil, nil
	}
	entry, _, err := c.Ledger.ResolveOrCreate(ctx, tx, kind, deviceId, rev.LocalId)
	return entry, nil, err
}

// incomingPayload produces the canonical candidate payload. A DELETE carries
// no body of its own: it is the server copy with the status flipped, so it
// rides the same detection and resolution path as any other update.
func (c *Coordinator) incomingPayload(store RecordStore, rev *RecordRevision, current *ServerRecord) (json.RawMessage, *ItemError) {
	if rev.Operation != models.SyncOperationDelete {
		return store.Canonicalize(rev.Payload)
	}
	if current == nil {
		return nil, &ItemError{Code: ErrCodeInvalidReference, Message: "cannot delete a record the server has never seen"}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(current.Payload, &fields); err != nil {
		return nil, &ItemError{Code: ErrCodeMalformedPayload, Message: err.Error()}
	}
	status, err := json.Marshal(models.RecordStatusDeleted)
	if err != nil {
		return nil, &ItemError{Code: ErrCodeMalformedPayload, Message: err.Error()}
	}
	fields["status"] = status
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, &ItemError{Code: ErrCodeMalformedPayload, Message: err.Error()}
	}
	return store.Canonicalize(raw)
}

// holdConflict parks both sides for manual review without moving the
// version. A resubmit of the same held revision refreshes the client copy
// instead of stacking a second pending row.
func (c *Coordinator) holdConflict(ctx context.Context, tx *gorm.DB, kind models.RecordKind, scope *DeviceScope, rev *RecordRevision, serverId string, current *ServerRecord, canonical json.RawMessage, strategy models.ConflictResolution) error {
	var existing models.SyncConflict
	err := tx.WithContext(ctx).
		Where("record_kind = ? AND server_id = ? AND device_id = ? AND local_id = ? AND status = ?",
			kind, serverId, scope.DeviceId, rev.LocalId, models.ConflictStatusPending).
		First(&existing).Error
	if err == nil {
		return tx.WithContext(ctx).Model(&existing).
			Updates(map[string]interface{}{"client_data": []byte(canonical), "server_data": []byte(current.Payload)}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	conflict := models.SyncConflict{
		RecordKind:        kind,
		ServerId:          serverId,
		LocalId:           rev.LocalId,
		DeviceId:          scope.DeviceId,
		CompanyId:         scope.CompanyId,
		BaseServerVersion: current.Version,
		Strategy:          strategy,
		ServerData:        current.Payload,
		ClientData:        canonical,
		Status:            models.ConflictStatusPending,
	}
	if err := tx.WithContext(ctx).Create(&conflict).Error; err != nil {
		return err
	}
	err = models.WriteChangeEvent(ctx, tx, scope.CompanyId, scope.DeviceId, kind, serverId, current.Version, models.ChangeTypeConflictHeld, current.Payload, canonical)
	if err != nil && !models.IsDuplicateKeyErr(err) {
		return err
	}
	return nil
}
