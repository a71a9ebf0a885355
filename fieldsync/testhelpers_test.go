package fieldsync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/agrinova/fieldops-backend/models"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testCompanyId = "co-1"
	testDeviceA   = "device-a"
	testDeviceB   = "device-b"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Company{}, &models.Estate{}, &models.Division{}, &models.Block{}, &models.Vehicle{},
		&models.DeviceRegistration{},
		&models.HarvestRecord{}, &models.GateLog{},
		&models.SyncLedgerEntry{}, &models.SyncTransaction{}, &models.SyncConflict{},
		&models.FieldPhoto{}, &models.DeviceCursor{},
		&models.ChangeEventRecord{}, &models.IdempotencyKey{},
	))
	seedMasters(t, db)
	return db
}

func seedMasters(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&models.Company{ID: testCompanyId, Name: "Test Plantation", Code: "TP", Active: true}).Error)
	require.NoError(t, db.Create(&models.Estate{ID: 1, CompanyId: testCompanyId, Name: "Estate One", Code: "EST-01", Active: true}).Error)
	require.NoError(t, db.Create(&models.Division{ID: 1, EstateId: 1, CompanyId: testCompanyId, Name: "Division One", Active: true}).Error)
	require.NoError(t, db.Create(&models.Block{ID: 1, DivisionId: 1, EstateId: 1, CompanyId: testCompanyId, Name: "Block A1", Active: true}).Error)
	require.NoError(t, db.Create(&models.Vehicle{ID: 1, CompanyId: testCompanyId, Plate: "BM 1234 XY", Type: "truck", Active: true}).Error)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewCoordinator(db, NewHub()), db
}

func deviceScope(deviceId string) *DeviceScope {
	return &DeviceScope{
		DeviceId:  deviceId,
		CompanyId: testCompanyId,
		UserId:    1,
		UserName:  "Tester",
		EstateIds: []int{1},
	}
}

func harvestPayload(t *testing.T, overrides map[string]interface{}) json.RawMessage {
	t.Helper()
	fields := map[string]interface{}{
		"estateId":        1,
		"divisionId":      1,
		"blockId":         1,
		"harvestDate":     "2026-03-10T00:00:00Z",
		"workerName":      "Sari",
		"workerNik":       "NIK-2241",
		"bunchCount":      40,
		"weightKg":        "100",
		"looseFruitKg":    "5",
		"ripeBunches":     30,
		"unripeBunches":   6,
		"overripeBunches": 4,
		"emptyBunches":    0,
	}
	for k, v := range overrides {
		fields[k] = v
	}
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return raw
}

func syncRequest(deviceId, batchId string, strategy models.ConflictResolution, records ...RecordRevision) *SyncRequest {
	return &SyncRequest{
		DeviceId:           deviceId,
		ClientTimestamp:    time.Now().UTC(),
		BatchId:            batchId,
		ConflictResolution: strategy,
		Records:            records,
	}
}

func changeEventCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.ChangeEventRecord{}).Count(&count).Error)
	return count
}
