package models

import (
	"log"

	"github.com/agrinova/fieldops-backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Company{}, &Estate{}, &Division{}, &Block{}, &Vehicle{}, &DeviceRegistration{},
		&HarvestRecord{}, &GateLog{},
		&SyncLedgerEntry{}, &SyncTransaction{}, &SyncConflict{},
		&FieldPhoto{}, &DeviceCursor{},
		&ChangeEventRecord{}, &IdempotencyKey{}, &HarvestDailySummary{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
