package fieldsync

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/agrinova/fieldops-backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func photoRequest(deviceId string, photos ...PhotoUpload) *PhotoSyncRequest {
	return &PhotoSyncRequest{
		DeviceId: deviceId,
		BatchId:  "photo-batch-1",
		Kind:     models.RecordKindHarvest,
		Photos:   photos,
	}
}

func TestSyncPhotosOwnerNotSynced(t *testing.T) {
	co, _ := newTestCoordinator(t)

	resp, err := co.SyncPhotos(context.Background(), deviceScope(testDeviceA),
		photoRequest(testDeviceA, PhotoUpload{
			LocalId:      "photo-1",
			OwnerLocalId: "never-synced",
			FileName:     "bunch.jpg",
			PhotoData:    base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")),
		}))
	require.NoError(t, err)

	assert.Equal(t, 1, resp.PhotosProcessed)
	assert.Equal(t, 1, resp.FailedUploads)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, ErrCodeOwnerNotSynced, resp.Errors[0].Code)
	assert.Equal(t, "photo-1", resp.Errors[0].PhotoId)
}

func TestSyncPhotosRejectsBadBase64(t *testing.T) {
	co, _ := newTestCoordinator(t)

	resp, err := co.SyncPhotos(context.Background(), deviceScope(testDeviceA),
		photoRequest(testDeviceA, PhotoUpload{
			LocalId:      "photo-1",
			OwnerLocalId: "loc-1",
			FileName:     "bunch.jpg",
			PhotoData:    "not*base64*at*all",
		}))
	require.NoError(t, err)

	require.Len(t, resp.Errors, 1)
	assert.Equal(t, ErrCodeDecodeError, resp.Errors[0].Code)
}

func TestSyncPhotosStrictHashMismatch(t *testing.T) {
	t.Setenv("STRICT_PHOTO_HASH_VERIFY", "true")
	co, _ := newTestCoordinator(t)
	createHarvest(t, co, testDeviceA, "loc-1", "batch-1")

	resp, err := co.SyncPhotos(context.Background(), deviceScope(testDeviceA),
		photoRequest(testDeviceA, PhotoUpload{
			LocalId:      "photo-1",
			OwnerLocalId: "loc-1",
			FileName:     "bunch.jpg",
			FileHash:     "deadbeef",
			PhotoData:    base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")),
		}))
	require.NoError(t, err)

	require.Len(t, resp.Errors, 1)
	assert.Equal(t, ErrCodeHashMismatch, resp.Errors[0].Code)
}

func TestSyncPhotosDuplicateContentIsNoop(t *testing.T) {
	co, db := newTestCoordinator(t)
	created := createHarvest(t, co, testDeviceA, "loc-1", "batch-1")

	data := []byte("jpeg-bytes")
	hash := sha256.Sum256(data)
	fileHash := hex.EncodeToString(hash[:])

	// A previous upload of the same bytes already stands.
	require.NoError(t, db.Create(&models.FieldPhoto{
		PhotoLocalId:  "photo-0",
		OwnerLocalId:  "loc-1",
		OwnerServerId: created.ServerId,
		RecordKind:    models.RecordKindHarvest,
		DeviceId:      testDeviceA,
		CompanyId:     testCompanyId,
		FileName:      "bunch.jpg",
		FileHash:      fileHash,
		FileSize:      int64(len(data)),
		SyncStatus:    models.PhotoSyncStatusStored,
	}).Error)

	resp, err := co.SyncPhotos(context.Background(), deviceScope(testDeviceA),
		photoRequest(testDeviceA, PhotoUpload{
			LocalId:      "photo-1",
			OwnerLocalId: "loc-1",
			FileName:     "bunch.jpg",
			FileHash:     fileHash,
			PhotoData:    base64.StdEncoding.EncodeToString(data),
		}))
	require.NoError(t, err)

	assert.Equal(t, 1, resp.SuccessfulUploads)
	assert.Equal(t, 0, resp.FailedUploads)
	assert.Equal(t, int64(0), resp.TotalBytesUploaded)

	var count int64
	require.NoError(t, db.Model(&models.FieldPhoto{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSyncPhotosRejectsForeignDevice(t *testing.T) {
	co, _ := newTestCoordinator(t)

	_, err := co.SyncPhotos(context.Background(), deviceScope(testDeviceA),
		photoRequest(testDeviceB))
	assert.Error(t, err)
}
