package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HarvestDailySummary is the read model maintained from harvest change
// events: one row per block per harvest date. It is rebuilt incrementally by
// the push-subscription processor, never written by the sync path itself.
type HarvestDailySummary struct {
	ID          int       `gorm:"primary_key" json:"id"`
	CompanyId   string    `gorm:"size:64;not null;index:uniq_harvest_summary,unique" json:"company_id"`
	EstateId    int       `gorm:"not null;index" json:"estate_id"`
	DivisionId  int       `gorm:"not null" json:"division_id"`
	BlockId     int       `gorm:"not null;index:uniq_harvest_summary,unique" json:"block_id"`
	HarvestDate time.Time `gorm:"type:date;not null;index:uniq_harvest_summary,unique" json:"harvest_date"`

	RecordCount  int             `gorm:"not null;default:0" json:"record_count"`
	BunchCount   int             `gorm:"not null;default:0" json:"bunch_count"`
	WeightKg     decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"weight_kg"`
	LooseFruitKg decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"loose_fruit_kg"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
