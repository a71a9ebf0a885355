package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GateLog is the server-authoritative copy of a vehicle gate-check entry
// recorded by security staff at an estate gate.
type GateLog struct {
	ID            string `gorm:"primaryKey;size:64" json:"id"`
	ServerVersion int32  `gorm:"not null;default:0" json:"server_version"`
	LocalId       string `gorm:"size:64;not null;index" json:"local_id"`
	DeviceId      string `gorm:"size:64;not null;index" json:"device_id"`
	CompanyId     string `gorm:"size:64;not null;index" json:"company_id"`
	EstateId      int    `gorm:"not null;index" json:"estate_id"`

	// Server-assigned gate pass number, sequential per company. Zero when
	// the sequence service was unavailable at accept time.
	SequenceNo int64 `gorm:"not null;default:0;index" json:"sequence_no"`

	GateName         string          `gorm:"size:64" json:"gate_name"`
	DriverName       string          `gorm:"size:120" json:"driver_name"`
	VehiclePlate     string          `gorm:"size:20;index" json:"vehicle_plate"`
	VehicleType      string          `gorm:"size:40" json:"vehicle_type"`
	Destination      string          `gorm:"size:200" json:"destination"`
	CargoDescription string          `gorm:"size:255" json:"cargo_description"`
	CargoWeightKg    decimal.Decimal `gorm:"type:decimal(12,2)" json:"cargo_weight_kg"`
	EntryTime        *time.Time      `json:"entry_time"`
	ExitTime         *time.Time      `json:"exit_time"`
	Notes            *string         `gorm:"type:text" json:"notes"`
	PhotoURLs        []byte          `gorm:"type:json" json:"photo_urls"`

	Status             RecordStatus `gorm:"size:20;not null;default:'PENDING';index" json:"status"`
	LastWriterDeviceId string       `gorm:"size:64;not null;index" json:"last_writer_device_id"`
	LastUpdated        time.Time    `gorm:"not null" json:"last_updated"`
	CreatedAt          time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"autoUpdateTime;index" json:"updated_at"`
}
