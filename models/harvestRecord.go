package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HarvestRecord is the server-authoritative copy of a field harvest entry.
// ID is the server id minted by the sync ledger; ServerVersion mirrors the
// ledger row and is written in the same transaction as the CAS advance.
type HarvestRecord struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	ServerVersion int32     `gorm:"not null;default:0" json:"server_version"`
	LocalId       string    `gorm:"size:64;not null;index" json:"local_id"`
	DeviceId      string    `gorm:"size:64;not null;index" json:"device_id"`
	CompanyId     string    `gorm:"size:64;not null;index" json:"company_id"`
	EstateId      int       `gorm:"not null;index" json:"estate_id"`
	DivisionId    int       `gorm:"not null" json:"division_id"`
	BlockId       int       `gorm:"not null;index:idx_harvest_block_date,priority:1" json:"block_id"`
	HarvestDate   time.Time `gorm:"not null;index:idx_harvest_block_date,priority:2" json:"harvest_date"`

	WorkerName      string          `gorm:"size:120" json:"worker_name"`
	WorkerNik       string          `gorm:"size:32" json:"worker_nik"`
	BunchCount      int             `gorm:"not null;default:0" json:"bunch_count"`
	WeightKg        decimal.Decimal `gorm:"type:decimal(12,2)" json:"weight_kg"`
	LooseFruitKg    decimal.Decimal `gorm:"type:decimal(12,2)" json:"loose_fruit_kg"`
	RipeBunches     int             `gorm:"not null;default:0" json:"ripe_bunches"`
	UnripeBunches   int             `gorm:"not null;default:0" json:"unripe_bunches"`
	OverripeBunches int             `gorm:"not null;default:0" json:"overripe_bunches"`
	EmptyBunches    int             `gorm:"not null;default:0" json:"empty_bunches"`
	Notes           *string         `gorm:"type:text" json:"notes"`
	Latitude        *float64        `json:"latitude"`
	Longitude       *float64        `json:"longitude"`
	PhotoURLs       []byte          `gorm:"type:json" json:"photo_urls"`

	Status             RecordStatus `gorm:"size:20;not null;default:'PENDING';index" json:"status"`
	LastWriterDeviceId string       `gorm:"size:64;not null;index" json:"last_writer_device_id"`
	LastUpdated        time.Time    `gorm:"not null" json:"last_updated"`
	CreatedAt          time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"autoUpdateTime;index" json:"updated_at"`
}
