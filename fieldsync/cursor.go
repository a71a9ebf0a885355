package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agrinova/fieldops-backend/models"
	"gorm.io/gorm"
)

const defaultPullLimit = 200

// ServerUpdatesSince returns server-side changes the device has not seen:
// records written after `since` by any other device. A zero `since` means
// "anchor at the device's acked cursor"; a device that never acked starts
// from the beginning of time. Pulls are read-only, the cursor moves only in
// AckPull.
func (c *Coordinator) ServerUpdatesSince(ctx context.Context, scope *DeviceScope, kind models.RecordKind, since time.Time, limit int) ([]PulledRecord, error) {
	store, ok := c.Stores[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported record kind %s", kind)
	}
	if limit <= 0 {
		limit = defaultPullLimit
	}

	if since.IsZero() {
		cursor, err := c.cursor(ctx, scope.DeviceId)
		if err != nil {
			return nil, err
		}
		if cursor != nil {
			since = cursor.LastAckedAt
		}
	}

	records, err := store.UpdatesSince(ctx, c.DB, scope.DeviceId, since, limit)
	if err != nil {
		return nil, err
	}

	out := make([]PulledRecord, 0, len(records))
	for i := range records {
		rec := &records[i]
		changeType := models.ChangeTypeUpdated
		if rec.Version == 1 {
			changeType = models.ChangeTypeCreated
		}
		out = append(out, PulledRecord{
			Kind:          kind,
			ServerId:      rec.ServerId,
			ServerVersion: rec.Version,
			ChangeType:    changeType,
			Payload:       rec.Payload,
			UpdatedAt:     rec.UpdatedAt,
		})
	}
	return out, nil
}

// PendingSyncItems lists the device's own batch transactions newer than its
// acked cursor, plus anything still STARTED. Devices use it after a crash to
// learn which batches the server already holds before resubmitting.
func (c *Coordinator) PendingSyncItems(ctx context.Context, scope *DeviceScope) ([]PendingSyncItem, error) {
	var ackedAt time.Time
	cursor, err := c.cursor(ctx, scope.DeviceId)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		ackedAt = cursor.LastAckedAt
	}

	var txns []models.SyncTransaction
	err = c.DB.WithContext(ctx).
		Where("device_id = ? AND (created_at > ? OR status = ?)",
			scope.DeviceId, ackedAt, models.SyncTransactionStatusStarted).
		Order("created_at ASC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}

	out := make([]PendingSyncItem, 0, len(txns))
	for i := range txns {
		out = append(out, PendingSyncItem{
			TransactionId:     txns[i].TransactionId,
			BatchId:           txns[i].BatchId,
			RecordKind:        txns[i].RecordKind,
			Status:            txns[i].Status,
			RecordsProcessed:  txns[i].RecordsProcessed,
			RecordsSuccessful: txns[i].RecordsSuccessful,
			RecordsFailed:     txns[i].RecordsFailed,
			CreatedAt:         txns[i].CreatedAt,
		})
	}
	return out, nil
}

// AckPull moves the device cursor forward. Acks are idempotent and never
// move the cursor backwards, so replays of an old ack are harmless.
func (c *Coordinator) AckPull(ctx context.Context, scope *DeviceScope, ackedAt time.Time, transactionId *string) error {
	if ackedAt.IsZero() {
		return errors.New("ackedAt is required")
	}
	return c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cursor models.DeviceCursor
		err := tx.Where("device_id = ?", scope.DeviceId).First(&cursor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cursor = models.DeviceCursor{
				DeviceId:       scope.DeviceId,
				CompanyId:      scope.CompanyId,
				LastAckedAt:    ackedAt,
				LastAckedTxnId: transactionId,
			}
			if err := tx.Create(&cursor).Error; err != nil && !models.IsDuplicateKeyErr(err) {
				return err
			}
			return nil
		}
		if err != nil {
			return err
		}
		if !ackedAt.After(cursor.LastAckedAt) {
			return nil
		}
		return tx.Model(&models.DeviceCursor{}).
			Where("device_id = ?", scope.DeviceId).
			Updates(map[string]interface{}{
				"last_acked_at":     ackedAt,
				"last_acked_txn_id": transactionId,
			}).Error
	})
}

func (c *Coordinator) cursor(ctx context.Context, deviceId string) (*models.DeviceCursor, error) {
	var cursor models.DeviceCursor
	err := c.DB.WithContext(ctx).Where("device_id = ?", deviceId).First(&cursor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cursor, nil
}
