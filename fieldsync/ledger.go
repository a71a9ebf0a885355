package fieldsync

import (
	"context"
	"errors"

	"github.com/agrinova/fieldops-backend/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ledger owns the (deviceId, localId) -> (serverId, serverVersion) mapping.
// It is the only component allowed to mint server ids or move the version
// counter; everything else goes through ResolveOrCreate and Advance.
type Ledger struct{}

// ResolveOrCreate returns the existing mapping for (kind, deviceId, localId)
// or atomically mints a new server id. Under a concurrent race for the same
// key the losing insert re-reads the winner's row, so a key never maps to two
// server ids. The returned bool is true when this call minted the id.
func (Ledger) ResolveOrCreate(ctx context.Context, tx *gorm.DB, kind models.RecordKind, deviceId, localId string) (*models.SyncLedgerEntry, bool, error) {
	var entry models.SyncLedgerEntry
	err := tx.WithContext(ctx).
		Where("record_kind = ? AND device_id = ? AND local_id = ?", kind, deviceId, localId).
		First(&entry).Error
	if err == nil {
		return &entry, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	entry = models.SyncLedgerEntry{
		RecordKind:    kind,
		DeviceId:      deviceId,
		LocalId:       localId,
		ServerId:      uuid.NewString(),
		ServerVersion: 0,
	}
	if err := tx.WithContext(ctx).Create(&entry).Error; err == nil {
		return &entry, true, nil
	} else if !models.IsDuplicateKeyErr(err) {
		return nil, false, err
	}

	// Lost the race; the winner's row must exist now.
	if err := tx.WithContext(ctx).
		Where("record_kind = ? AND device_id = ? AND local_id = ?", kind, deviceId, localId).
		First(&entry).Error; err != nil {
		return nil, false, err
	}
	return &entry, false, nil
}

// ResolveServerId returns the ledger entry for an already-known server id,
// nil when the server has never accepted that id.
func (Ledger) ResolveServerId(ctx context.Context, tx *gorm.DB, kind models.RecordKind, serverId string) (*models.SyncLedgerEntry, error) {
	var entry models.SyncLedgerEntry
	err := tx.WithContext(ctx).
		Where("record_kind = ? AND server_id = ?", kind, serverId).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// CurrentVersion reads the authoritative version. ok=false means the record
// does not exist server-side.
func (l Ledger) CurrentVersion(ctx context.Context, tx *gorm.DB, kind models.RecordKind, serverId string) (int32, bool, error) {
	entry, err := l.ResolveServerId(ctx, tx, kind, serverId)
	if err != nil {
		return 0, false, err
	}
	if entry == nil {
		return 0, false, nil
	}
	return entry.ServerVersion, true, nil
}

// Advance is the compare-and-set: it succeeds only if the stored version
// still equals `from` at the moment of the write. A false return means
// another writer got there first; callers must re-run detection, not retry
// blindly.
func (Ledger) Advance(ctx context.Context, tx *gorm.DB, kind models.RecordKind, serverId string, from, to int32) (bool, error) {
	res := tx.WithContext(ctx).Model(&models.SyncLedgerEntry{}).
		Where("record_kind = ? AND server_id = ? AND server_version = ?", kind, serverId, from).
		Update("server_version", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
