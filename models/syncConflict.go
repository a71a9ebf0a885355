package models

import "time"

// SyncConflict is the manual-hold area. A MANUAL strategy outcome parks both
// sides here without advancing the server version; an explicit resolve call
// (or a supervisor) picks a side later.
type SyncConflict struct {
	ID                int                `gorm:"primary_key" json:"id"`
	RecordKind        RecordKind         `gorm:"size:20;not null;index" json:"record_kind"`
	ServerId          string             `gorm:"size:64;not null;index" json:"server_id"`
	LocalId           string             `gorm:"size:64;not null" json:"local_id"`
	DeviceId          string             `gorm:"size:64;not null;index" json:"device_id"`
	CompanyId         string             `gorm:"size:64;not null;index" json:"company_id"`
	BaseServerVersion int32              `gorm:"not null" json:"base_server_version"`
	Strategy          ConflictResolution `gorm:"size:20;not null" json:"strategy"`

	ServerData []byte `gorm:"type:json" json:"server_data"`
	ClientData []byte `gorm:"type:json" json:"client_data"`

	Status     ConflictStatus `gorm:"size:20;not null;default:'PENDING';index" json:"status"`
	Resolution *string        `gorm:"size:20" json:"resolution"`
	ResolvedBy *string        `gorm:"size:120" json:"resolved_by"`
	ResolvedAt *time.Time     `json:"resolved_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
