package models

import "time"

// SyncLedgerEntry is the durable mapping (device_id, local_id, record_kind) ->
// (server_id, server_version). It is the only place a server id is minted and
// the only row that carries the authoritative version counter; payload tables
// mirror server_version but never advance it themselves.
//
// Invariants:
// - one row per (record_kind, device_id, local_id)
// - one row per (record_kind, server_id)
type SyncLedgerEntry struct {
	ID            int        `gorm:"primary_key" json:"id"`
	RecordKind    RecordKind `gorm:"size:20;not null;index:uniq_ledger_key,unique;index:uniq_ledger_server,unique" json:"record_kind"`
	DeviceId      string     `gorm:"size:64;not null;index:uniq_ledger_key,unique" json:"device_id"`
	LocalId       string     `gorm:"size:64;not null;index:uniq_ledger_key,unique" json:"local_id"`
	ServerId      string     `gorm:"size:64;not null;index:uniq_ledger_server,unique" json:"server_id"`
	ServerVersion int32      `gorm:"not null;default:0" json:"server_version"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
