package models

import (
	"context"
	"time"

	"github.com/agrinova/fieldops-backend/config"
	"gorm.io/gorm"
)

// Outbox publish statuses for ChangeEventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// ChangeEventRecord is the transactional outbox row behind the change
// notifier: one row per accepted record revision, written inside the item's
// DB transaction and published to Pub/Sub asynchronously by the dispatcher.
// Unique (record_kind, server_id, server_version, change_type) doubles as
// the consumer dedup key for at-least-once delivery.
type ChangeEventRecord struct {
	ID            int        `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	CompanyId     string     `gorm:"size:64;not null;index" json:"company_id"`
	DeviceId      string     `gorm:"size:64;not null;index" json:"device_id"`
	OccurredAt    time.Time  `gorm:"index;not null" json:"occurred_at"`
	RecordKind    RecordKind `gorm:"size:20;not null;index:uniq_change_event,unique" json:"record_kind"`
	ServerId      string     `gorm:"size:64;not null;index:uniq_change_event,unique" json:"server_id"`
	ServerVersion int32      `gorm:"not null;index:uniq_change_event,unique" json:"server_version"`
	ChangeType    ChangeType `gorm:"size:20;not null;index:uniq_change_event,unique" json:"change_type"`
	OldObj        []byte     `gorm:"type:blob" json:"old_obj"`
	NewObj        []byte     `gorm:"type:blob" json:"new_obj"`
	IsProcessed   bool       `gorm:"index;not null" json:"is_processed"`

	// Publish metadata (publish happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func ChangeEventToPubSubMessage(record ChangeEventRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:            record.ID,
		CompanyId:     record.CompanyId,
		DeviceId:      record.DeviceId,
		OccurredAt:    record.OccurredAt,
		ReferenceId:   record.ServerId,
		ReferenceType: string(record.RecordKind),
		ServerVersion: record.ServerVersion,
		Action:        string(record.ChangeType),
		OldObj:        record.OldObj,
		NewObj:        record.NewObj,
		CorrelationId: record.CorrelationId,
	}
}

// WriteChangeEvent writes the outbox row inside the caller's DB transaction
// but does NOT publish to Pub/Sub. Publishing is performed asynchronously by
// the outbox dispatcher after commit.
func WriteChangeEvent(ctx context.Context, tx *gorm.DB, companyId, deviceId string, kind RecordKind, serverId string, serverVersion int32, changeType ChangeType, oldObj, newObj []byte) error {
	record := ChangeEventRecord{
		CompanyId:     companyId,
		DeviceId:      deviceId,
		OccurredAt:    time.Now().UTC(),
		RecordKind:    kind,
		ServerId:      serverId,
		ServerVersion: serverVersion,
		ChangeType:    changeType,
		OldObj:        oldObj,
		NewObj:        newObj,
		IsProcessed:   false,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}
