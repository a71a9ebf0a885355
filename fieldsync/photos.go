package fieldsync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/agrinova/fieldops-backend/config"
	"github.com/agrinova/fieldops-backend/models"
	"github.com/agrinova/fieldops-backend/utils"
	"github.com/disintegration/imaging"
	"gorm.io/gorm"
)

// SyncPhotos stores a batch of device photos and links each to its owning
// record. Photos never advance a record's server version; the photo list is
// metadata, not a concurrent edit. Owners that have not synced yet come back
// as OWNER_NOT_SYNCED so the device retries the photo after the record.
func (c *Coordinator) SyncPhotos(ctx context.Context, scope *DeviceScope, req *PhotoSyncRequest) (*PhotoSyncResponse, error) {
	store, ok := c.Stores[req.Kind]
	if !ok {
		return nil, fmt.Errorf("unsupported record kind %s", req.Kind)
	}
	if req.DeviceId != scope.DeviceId {
		return nil, fmt.Errorf("deviceId does not match the authenticated device")
	}

	resp := &PhotoSyncResponse{SyncedAt: time.Now().UTC()}
	for i := range req.Photos {
		photo := &req.Photos[i]
		resp.PhotosProcessed++

		size, perr := c.storePhoto(ctx, store, scope, photo)
		if perr != nil {
			resp.FailedUploads++
			resp.Errors = append(resp.Errors, *perr)
			continue
		}
		resp.SuccessfulUploads++
		resp.TotalBytesUploaded += size
	}
	return resp, nil
}

func (c *Coordinator) storePhoto(ctx context.Context, store RecordStore, scope *DeviceScope, photo *PhotoUpload) (int64, *PhotoError) {
	data, err := base64.StdEncoding.DecodeString(photo.PhotoData)
	if err != nil {
		return 0, &PhotoError{PhotoId: photo.LocalId, Code: ErrCodeDecodeError, Error: "photo data is not valid base64"}
	}

	hash := sha256.Sum256(data)
	fileHash := hex.EncodeToString(hash[:])
	if photo.FileHash != "" && !strings.EqualFold(photo.FileHash, fileHash) {
		if config.StrictPhotoHashVerify() {
			return 0, &PhotoError{PhotoId: photo.LocalId, Code: ErrCodeHashMismatch, Error: "photo content does not match the declared hash"}
		}
		c.Logger.Warnf("photo %s hash mismatch, accepting with computed hash", photo.LocalId)
	}

	// The owner must already hold a server id; photos piggyback on the
	// record ledger rather than minting ids of their own.
	owner, err := c.ownerEntry(ctx, store.Kind(), scope.DeviceId, photo.OwnerLocalId)
	if err != nil {
		return 0, &PhotoError{PhotoId: photo.LocalId, Code: ErrCodeSaveError, Error: err.Error()}
	}
	if owner == nil || owner.ServerVersion == 0 {
		return 0, &PhotoError{PhotoId: photo.LocalId, Code: ErrCodeOwnerNotSynced, Error: fmt.Sprintf("record %s has not synced yet", photo.OwnerLocalId)}
	}

	var duplicate models.FieldPhoto
	err = c.DB.WithContext(ctx).
		Where("owner_server_id = ? AND file_hash = ?", owner.ServerId, fileHash).
		First(&duplicate).Error
	if err == nil {
		// Same bytes for the same owner: the earlier upload stands.
		return 0, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, &PhotoError{PhotoId: photo.LocalId, Code: ErrCodeSaveError, Error: err.Error()}
	}

	ext := strings.ToLower(path.Ext(photo.FileName))
	if ext == "" {
		ext = ".jpg"
	}
	objectKey := fmt.Sprintf("field-photos/%s/%s/%s%s", scope.CompanyId, owner.ServerId, utils.GenerateUniqueFilename(), ext)
	if err := utils.UploadBytesToGCS(ctx, objectKey, data, contentTypeForExt(ext)); err != nil {
		return 0, &PhotoError{PhotoId: photo.LocalId, Code: ErrCodeSaveError, Error: err.Error()}
	}
	publicURL := utils.BuildObjectAccessURL(objectKey)

	thumbnailURL := ""
	if thumb, err := buildThumbnail(data); err == nil {
		thumbKey := strings.TrimSuffix(objectKey, ext) + "_thumb.jpg"
		if err := utils.UploadBytesToGCS(ctx, thumbKey, thumb, "image/jpeg"); err == nil {
			thumbnailURL = utils.BuildObjectAccessURL(thumbKey)
		} else {
			c.Logger.Warnf("thumbnail upload failed for photo %s: %v", photo.LocalId, err)
		}
	} else {
		c.Logger.Warnf("thumbnail generation failed for photo %s: %v", photo.LocalId, err)
	}

	record := models.FieldPhoto{
		PhotoLocalId:  photo.LocalId,
		OwnerLocalId:  photo.OwnerLocalId,
		OwnerServerId: owner.ServerId,
		RecordKind:    store.Kind(),
		DeviceId:      scope.DeviceId,
		CompanyId:     scope.CompanyId,
		FileName:      photo.FileName,
		FileHash:      fileHash,
		FileSize:      int64(len(data)),
		StoragePath:   objectKey,
		PublicURL:     publicURL,
		ThumbnailURL:  thumbnailURL,
		TakenAt:       photo.TakenAt,
		SyncStatus:    models.PhotoSyncStatusStored,
	}
	err = c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			if models.IsDuplicateKeyErr(err) {
				// Raced with a concurrent upload of the same bytes.
				return nil
			}
			return err
		}
		return store.AppendPhotoURL(ctx, tx, owner.ServerId, publicURL)
	})
	if err != nil {
		return 0, &PhotoError{PhotoId: photo.LocalId, Code: ErrCodeSaveError, Error: err.Error()}
	}
	return int64(len(data)), nil
}

// SignPhotoUpload hands the device a short-lived signed PUT URL so large
// photos go straight to the bucket instead of through the JSON sync body.
// The record must already be synced; the device confirms the upload with
// ConfirmPhotoUpload afterwards.
func (c *Coordinator) SignPhotoUpload(ctx context.Context, scope *DeviceScope, req *SignPhotoRequest) (*utils.SignedUpload, *PhotoError) {
	store, ok := c.Stores[req.Kind]
	if !ok {
		return nil, &PhotoError{PhotoId: req.LocalId, Code: ErrCodeMalformedPayload, Error: fmt.Sprintf("unsupported record kind %s", req.Kind)}
	}
	owner, err := c.ownerEntry(ctx, store.Kind(), scope.DeviceId, req.OwnerLocalId)
	if err != nil {
		return nil, &PhotoError{PhotoId: req.LocalId, Code: ErrCodeSaveError, Error: err.Error()}
	}
	if owner == nil || owner.ServerVersion == 0 {
		return nil, &PhotoError{PhotoId: req.LocalId, Code: ErrCodeOwnerNotSynced, Error: fmt.Sprintf("record %s has not synced yet", req.OwnerLocalId)}
	}

	ext := strings.ToLower(path.Ext(req.FileName))
	if ext == "" {
		ext = ".jpg"
	}
	objectKey := fmt.Sprintf("field-photos/%s/%s/%s%s", scope.CompanyId, owner.ServerId, utils.GenerateUniqueFilename(), ext)
	signed, err := utils.SignUpload(ctx, objectKey, contentTypeForExt(ext), 15*time.Minute)
	if err != nil {
		return nil, &PhotoError{PhotoId: req.LocalId, Code: ErrCodeSaveError, Error: err.Error()}
	}
	return signed, nil
}

// ConfirmPhotoUpload links a directly-uploaded object to its owning record.
// The object key must sit under the company prefix and the object must
// actually exist in the bucket before the link is written.
func (c *Coordinator) ConfirmPhotoUpload(ctx context.Context, scope *DeviceScope, req *ConfirmPhotoRequest) *PhotoError {
	store, ok := c.Stores[req.Kind]
	if !ok {
		return &PhotoError{PhotoId: req.LocalId, Code: ErrCodeMalformedPayload, Error: fmt.Sprintf("unsupported record kind %s", req.Kind)}
	}
	if !strings.HasPrefix(req.ObjectKey, fmt.Sprintf("field-photos/%s/", scope.CompanyId)) {
		return &PhotoError{PhotoId: req.LocalId, Code: ErrCodeScopeViolation, Error: "object key is outside the device's company prefix"}
	}
	owner, err := c.ownerEntry(ctx, store.Kind(), scope.DeviceId, req.OwnerLocalId)
	if err != nil {
		return &PhotoError{PhotoId: req.LocalId, Code: ErrCodeSaveError, Error: err.Error()}
	}
	if owner == nil || owner.ServerVersion == 0 {
		return &PhotoError{PhotoId: req.LocalId, Code: ErrCodeOwnerNotSynced, Error: fmt.Sprintf("record %s has not synced yet", req.OwnerLocalId)}
	}

	exists, err := utils.ObjectExistsInGCS(ctx, req.ObjectKey)
	if err != nil {
		return &PhotoError{PhotoId: req.LocalId, Code: ErrCodeSaveError, Error: err.Error()}
	}
	if !exists {
		return &PhotoError{PhotoId: req.LocalId, Code: ErrCodeInvalidReference, Error: "uploaded object not found"}
	}

	publicURL := utils.BuildObjectAccessURL(req.ObjectKey)
	record := models.FieldPhoto{
		PhotoLocalId:  req.LocalId,
		OwnerLocalId:  req.OwnerLocalId,
		OwnerServerId: owner.ServerId,
		RecordKind:    store.Kind(),
		DeviceId:      scope.DeviceId,
		CompanyId:     scope.CompanyId,
		FileName:      req.FileName,
		FileHash:      req.FileHash,
		FileSize:      req.FileSize,
		StoragePath:   req.ObjectKey,
		PublicURL:     publicURL,
		TakenAt:       req.TakenAt,
		SyncStatus:    models.PhotoSyncStatusStored,
	}
	duplicate := false
	err = c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			if models.IsDuplicateKeyErr(err) {
				duplicate = true
				return nil
			}
			return err
		}
		return store.AppendPhotoURL(ctx, tx, owner.ServerId, publicURL)
	})
	if err != nil {
		return &PhotoError{PhotoId: req.LocalId, Code: ErrCodeSaveError, Error: err.Error()}
	}
	if duplicate {
		// Same bytes already linked; the fresh upload is an orphan object.
		if err := utils.DeleteImageFromGCS(ctx, req.ObjectKey); err != nil {
			c.Logger.Warnf("orphan cleanup failed for %s: %v", req.ObjectKey, err)
		}
	}
	return nil
}

// DeletePhoto removes a photo link and its stored object. Review-console
// operation; the owning record's version is untouched, photo lists are
// metadata.
func (c *Coordinator) DeletePhoto(ctx context.Context, photoId int) error {
	var photo models.FieldPhoto
	if err := c.DB.WithContext(ctx).First(&photo, photoId).Error; err != nil {
		return err
	}

	store, ok := c.Stores[photo.RecordKind]
	if !ok {
		return fmt.Errorf("unsupported record kind %s", photo.RecordKind)
	}
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.FieldPhoto{}, photo.ID).Error; err != nil {
			return err
		}
		return store.RemovePhotoURL(ctx, tx, photo.OwnerServerId, photo.PublicURL)
	})
	if err != nil {
		return err
	}

	objectKey := photo.StoragePath
	if objectKey == "" {
		objectKey = utils.ExtractObjectKeyFromURL(photo.PublicURL)
	}
	if objectKey != "" {
		if err := utils.DeleteImageFromGCS(ctx, objectKey); err != nil {
			c.Logger.Warnf("object cleanup failed for %s: %v", objectKey, err)
		}
		if photo.ThumbnailURL != "" {
			if thumbKey := utils.ExtractObjectKeyFromURL(photo.ThumbnailURL); thumbKey != "" {
				if err := utils.DeleteImageFromGCS(ctx, thumbKey); err != nil {
					c.Logger.Warnf("thumbnail cleanup failed for %s: %v", thumbKey, err)
				}
			}
		}
	}
	return nil
}

func (c *Coordinator) ownerEntry(ctx context.Context, kind models.RecordKind, deviceId, ownerLocalId string) (*models.SyncLedgerEntry, error) {
	var entry models.SyncLedgerEntry
	err := c.DB.WithContext(ctx).
		Where("record_kind = ? AND device_id = ? AND local_id = ?", kind, deviceId, ownerLocalId).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func buildThumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func contentTypeForExt(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
