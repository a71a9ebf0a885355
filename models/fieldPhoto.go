package models

import "time"

// FieldPhoto links an uploaded photo asset to its owning record. The unique
// (owner_server_id, file_hash) pair gives content-addressed dedup: the same
// bytes re-sent for the same owner are a no-op.
type FieldPhoto struct {
	ID            int        `gorm:"primary_key" json:"id"`
	PhotoLocalId  string     `gorm:"size:64;not null;index" json:"photo_local_id"`
	OwnerLocalId  string     `gorm:"size:64;not null;index" json:"owner_local_id"`
	OwnerServerId string     `gorm:"size:64;not null;index:uniq_photo_owner_hash,unique" json:"owner_server_id"`
	RecordKind    RecordKind `gorm:"size:20;not null" json:"record_kind"`
	DeviceId      string     `gorm:"size:64;not null;index" json:"device_id"`
	CompanyId     string     `gorm:"size:64;not null;index" json:"company_id"`

	FileName     string `gorm:"size:255;not null" json:"file_name"`
	FileHash     string `gorm:"size:64;not null;index:uniq_photo_owner_hash,unique" json:"file_hash"`
	FileSize     int64  `gorm:"not null;default:0" json:"file_size"`
	StoragePath  string `gorm:"size:500" json:"storage_path"`
	PublicURL    string `gorm:"size:500" json:"public_url"`
	ThumbnailURL string `gorm:"size:500" json:"thumbnail_url"`

	TakenAt    *time.Time      `json:"taken_at"`
	SyncStatus PhotoSyncStatus `gorm:"size:20;not null;default:'STORED'" json:"sync_status"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
