package fieldsync

import (
	"encoding/json"
	"time"

	"github.com/agrinova/fieldops-backend/models"
)

// Item error codes surfaced to devices.
const (
	ErrCodeInvalidReference = "INVALID_REFERENCE"
	ErrCodeScopeViolation   = "SCOPE_VIOLATION"
	ErrCodeMalformedPayload = "MALFORMED_PAYLOAD"
	ErrCodeVersionRace      = "VERSION_RACE"
	ErrCodeOwnerNotSynced   = "OWNER_NOT_SYNCED"
	ErrCodeDecodeError      = "DECODE_ERROR"
	ErrCodeHashMismatch     = "HASH_MISMATCH"
	ErrCodeSaveError        = "SAVE_ERROR"
)

// Per-item statuses mirrored back to the device.
const (
	ItemStatusAccepted = "ACCEPTED"
	ItemStatusRejected = "REJECTED"
	ItemStatusHeld     = "HELD"
)

// DeviceScope is the already-authorized identity attached by the device
// middleware: which company and estates this device may write to.
type DeviceScope struct {
	DeviceId  string `json:"deviceId"`
	CompanyId string `json:"companyId"`
	UserId    int    `json:"userId"`
	UserName  string `json:"userName"`
	EstateIds []int  `json:"estateIds"`
}

func (s *DeviceScope) AllowsEstate(estateId int) bool {
	for _, id := range s.EstateIds {
		if id == estateId {
			return true
		}
	}
	return false
}

// RecordRevision is one device-side snapshot of a record submitted for sync.
type RecordRevision struct {
	LocalId      string               `json:"localId" binding:"required"`
	ServerId     *string              `json:"serverId"`
	Operation    models.SyncOperation `json:"operation" binding:"required"`
	LocalVersion int                  `json:"localVersion"`
	// Server version this device last acknowledged for the record; zero for
	// a record the server has never seen.
	BaseServerVersion int32           `json:"serverVersion"`
	LastUpdated       time.Time       `json:"lastUpdated"`
	Payload           json.RawMessage `json:"data"`
	// Client-declared changed-field set, required for a real MERGE.
	ChangedFields []string `json:"changedFields"`
	PhotoLocalIds []string `json:"photoIds"`
	// Children of a BATCH container; processed individually.
	Children []RecordRevision `json:"records"`
}

type SyncRequest struct {
	DeviceId           string                    `json:"deviceId" binding:"required"`
	ClientTimestamp    time.Time                 `json:"clientTimestamp" binding:"required"`
	BatchId            string                    `json:"batchId" binding:"required"`
	ConflictResolution models.ConflictResolution `json:"conflictResolution" binding:"required"`
	Records            []RecordRevision          `json:"records" binding:"required"`
}

type ItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SyncItemResult struct {
	LocalId       string          `json:"localId"`
	ServerId      string          `json:"serverId,omitempty"`
	Success       bool            `json:"success"`
	Status        string          `json:"status"`
	ServerVersion int32           `json:"serverVersion,omitempty"`
	HasConflict   bool            `json:"hasConflict,omitempty"`
	ConflictData  json.RawMessage `json:"conflictData,omitempty"`
	Error         *ItemError      `json:"error,omitempty"`
}

type SyncResponse struct {
	TransactionId     string           `json:"transactionId"`
	ServerTimestamp   time.Time        `json:"serverTimestamp"`
	Success           bool             `json:"success"`
	RecordsProcessed  int              `json:"recordsProcessed"`
	RecordsSuccessful int              `json:"recordsSuccessful"`
	RecordsFailed     int              `json:"recordsFailed"`
	ConflictsDetected int              `json:"conflictsDetected"`
	Results           []SyncItemResult `json:"results"`
	Message           string           `json:"message,omitempty"`
}

type PhotoUpload struct {
	LocalId      string     `json:"localId" binding:"required"`
	OwnerLocalId string     `json:"ownerLocalId" binding:"required"`
	FileName     string     `json:"fileName" binding:"required"`
	FileHash     string     `json:"fileHash"`
	FileSize     int64      `json:"fileSize"`
	TakenAt      *time.Time `json:"takenAt"`
	// Base64-encoded binary payload.
	PhotoData string `json:"photoData" binding:"required"`
}

type PhotoSyncRequest struct {
	DeviceId string            `json:"deviceId" binding:"required"`
	BatchId  string            `json:"batchId"`
	Kind     models.RecordKind `json:"kind"`
	Photos   []PhotoUpload     `json:"photos" binding:"required"`
}

// SignPhotoRequest asks for a signed direct-upload URL for one photo.
type SignPhotoRequest struct {
	LocalId      string            `json:"localId" binding:"required"`
	OwnerLocalId string            `json:"ownerLocalId" binding:"required"`
	FileName     string            `json:"fileName" binding:"required"`
	Kind         models.RecordKind `json:"kind"`
}

// ConfirmPhotoRequest links an already-uploaded object to its owning record.
type ConfirmPhotoRequest struct {
	LocalId      string            `json:"localId" binding:"required"`
	OwnerLocalId string            `json:"ownerLocalId" binding:"required"`
	ObjectKey    string            `json:"objectKey" binding:"required"`
	FileName     string            `json:"fileName" binding:"required"`
	FileHash     string            `json:"fileHash" binding:"required"`
	FileSize     int64             `json:"fileSize"`
	TakenAt      *time.Time        `json:"takenAt"`
	Kind         models.RecordKind `json:"kind"`
}

type PhotoError struct {
	PhotoId string `json:"photoId"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

type PhotoSyncResponse struct {
	SyncedAt           time.Time    `json:"syncedAt"`
	PhotosProcessed    int          `json:"photosProcessed"`
	SuccessfulUploads  int          `json:"successfulUploads"`
	FailedUploads      int          `json:"failedUploads"`
	TotalBytesUploaded int64        `json:"totalBytesUploaded"`
	Errors             []PhotoError `json:"errors"`
}

// PulledRecord is one server-authoritative record returned by the pull call.
type PulledRecord struct {
	Kind          models.RecordKind `json:"kind"`
	ServerId      string            `json:"serverId"`
	ServerVersion int32             `json:"serverVersion"`
	ChangeType    models.ChangeType `json:"changeType"`
	Payload       json.RawMessage   `json:"data"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

type PendingSyncItem struct {
	TransactionId     string                       `json:"transactionId"`
	BatchId           string                       `json:"batchId"`
	RecordKind        models.RecordKind            `json:"recordKind"`
	Status            models.SyncTransactionStatus `json:"status"`
	RecordsProcessed  int                          `json:"recordsProcessed"`
	RecordsSuccessful int                          `json:"recordsSuccessful"`
	RecordsFailed     int                          `json:"recordsFailed"`
	CreatedAt         time.Time                    `json:"createdAt"`
}

// ChangeEvent is the outbound notification shape handed to in-process
// subscribers; the Pub/Sub side carries the same fields inside
// config.PubSubMessage. Subscribers deduplicate by (serverId, serverVersion).
type ChangeEvent struct {
	Kind          models.RecordKind `json:"kind"`
	ServerId      string            `json:"serverId"`
	ServerVersion int32             `json:"serverVersion"`
	ChangeType    models.ChangeType `json:"changeType"`
}
