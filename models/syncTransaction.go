package models

import "time"

// SyncTransaction is the durable idempotency record for one batch sync call.
// Resubmitting the same (device_id, batch_id, record_kind) replays the stored
// per-item results byte-identically instead of re-applying the batch, and the
// row survives restarts so a crash mid-retry cannot double-apply.
type SyncTransaction struct {
	TransactionId   string                `gorm:"primaryKey;size:64" json:"transaction_id"`
	DeviceId        string                `gorm:"size:64;not null;index:uniq_sync_batch,unique" json:"device_id"`
	BatchId         string                `gorm:"size:64;not null;index:uniq_sync_batch,unique" json:"batch_id"`
	RecordKind      RecordKind            `gorm:"size:20;not null;index:uniq_sync_batch,unique" json:"record_kind"`
	CompanyId       string                `gorm:"size:64;not null;index" json:"company_id"`
	ClientTimestamp time.Time             `gorm:"not null" json:"client_timestamp"`
	Status          SyncTransactionStatus `gorm:"size:20;not null;index" json:"status"`

	// Serialized []SyncItemResult, written once when the batch completes.
	ResultsJSON []byte `gorm:"type:json" json:"results_json"`

	RecordsProcessed  int `gorm:"not null;default:0" json:"records_processed"`
	RecordsSuccessful int `gorm:"not null;default:0" json:"records_successful"`
	RecordsFailed     int `gorm:"not null;default:0" json:"records_failed"`
	ConflictsDetected int `gorm:"not null;default:0" json:"conflicts_detected"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
