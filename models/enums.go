package models

type RecordKind string

const (
	RecordKindHarvest RecordKind = "HARVEST"
	RecordKindGateLog RecordKind = "GATE_LOG"
)

func (k RecordKind) Valid() bool {
	return k == RecordKindHarvest || k == RecordKindGateLog
}

type SyncOperation string

const (
	SyncOperationCreate SyncOperation = "CREATE"
	SyncOperationUpdate SyncOperation = "UPDATE"
	SyncOperationDelete SyncOperation = "DELETE"
	SyncOperationBatch  SyncOperation = "BATCH"
)

type ConflictResolution string

const (
	ConflictResolutionLatestWins ConflictResolution = "LATEST_WINS"
	ConflictResolutionLocalWins  ConflictResolution = "LOCAL_WINS"
	ConflictResolutionRemoteWins ConflictResolution = "REMOTE_WINS"
	ConflictResolutionMerge      ConflictResolution = "MERGE"
	ConflictResolutionManual     ConflictResolution = "MANUAL"
)

func (r ConflictResolution) Valid() bool {
	switch r {
	case ConflictResolutionLatestWins, ConflictResolutionLocalWins,
		ConflictResolutionRemoteWins, ConflictResolutionMerge, ConflictResolutionManual:
		return true
	}
	return false
}

// RecordStatus is the server-side lifecycle of a synced record.
// DELETE arrives as a status transition, never a row removal, so conflict
// detection stays uniform across create/update/delete.
type RecordStatus string

const (
	RecordStatusPending  RecordStatus = "PENDING"
	RecordStatusApproved RecordStatus = "APPROVED"
	RecordStatusRejected RecordStatus = "REJECTED"
	RecordStatusConflict RecordStatus = "CONFLICT"
	RecordStatusDeleted  RecordStatus = "DELETED"
)

type ConflictStatus string

const (
	ConflictStatusPending  ConflictStatus = "PENDING"
	ConflictStatusResolved ConflictStatus = "RESOLVED"
	ConflictStatusIgnored  ConflictStatus = "IGNORED"
)

type ChangeType string

const (
	ChangeTypeCreated      ChangeType = "created"
	ChangeTypeUpdated      ChangeType = "updated"
	ChangeTypeConflictHeld ChangeType = "conflict-held"
)

type SyncTransactionStatus string

const (
	SyncTransactionStatusStarted   SyncTransactionStatus = "STARTED"
	SyncTransactionStatusSucceeded SyncTransactionStatus = "SUCCEEDED"
)

type PhotoSyncStatus string

const (
	PhotoSyncStatusStored   PhotoSyncStatus = "STORED"
	PhotoSyncStatusDeferred PhotoSyncStatus = "DEFERRED"
)
