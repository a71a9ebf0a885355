package models

import "time"

// DeviceCursor is the per-device pull watermark. It advances only on an
// explicit acknowledgement call; pulls never consume it implicitly, so the
// same `since` always returns the same set.
type DeviceCursor struct {
	DeviceId       string    `gorm:"primaryKey;size:64" json:"device_id"`
	CompanyId      string    `gorm:"size:64;not null;index" json:"company_id"`
	LastAckedAt    time.Time `gorm:"not null" json:"last_acked_at"`
	LastAckedTxnId *string   `gorm:"size:64" json:"last_acked_txn_id"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
