package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/agrinova/fieldops-backend/models"
	"gorm.io/gorm"
)

// ServerRecord is the store-agnostic view of the current server copy handed
// to the detector and resolver. Payload is the canonical JSON form of the
// business fields only.
type ServerRecord struct {
	ServerId    string
	Version     int32
	Payload     json.RawMessage
	Status      models.RecordStatus
	LastUpdated time.Time
	LastWriter  string
	UpdatedAt   time.Time
}

// ApplyWrite is one accepted revision to persist. The store writes the
// payload row in the caller's transaction; the ledger CAS in the same
// transaction is what makes the version authoritative.
type ApplyWrite struct {
	ServerId    string
	LocalId     string
	DeviceId    string
	CompanyId   string
	Version     int32
	Payload     json.RawMessage
	Status      models.RecordStatus
	LastUpdated time.Time
}

// RecordStore adapts one record kind (harvest entries, gate logs) to the
// kind-agnostic sync engine.
type RecordStore interface {
	Kind() models.RecordKind

	// Canonicalize parses a client payload and re-marshals it into the
	// canonical field order, dropping unknown fields. Returns an item error
	// with code MALFORMED_PAYLOAD when the payload does not parse.
	Canonicalize(payload json.RawMessage) (json.RawMessage, *ItemError)

	// Validate enforces referential integrity and device scope on a
	// canonical payload.
	Validate(ctx context.Context, db *gorm.DB, scope *DeviceScope, payload json.RawMessage) *ItemError

	// Current loads the server copy, nil when the row does not exist.
	Current(ctx context.Context, tx *gorm.DB, serverId string) (*ServerRecord, error)

	// Apply upserts the payload row at the given version.
	Apply(ctx context.Context, tx *gorm.DB, w ApplyWrite) error

	// UpdatesSince lists records changed after `since` by a writer other
	// than deviceId, ordered by updated_at then id for a stable cursor.
	UpdatesSince(ctx context.Context, db *gorm.DB, deviceId string, since time.Time, limit int) ([]ServerRecord, error)

	// AppendPhotoURL adds url to the record's photo list without touching
	// the server version.
	AppendPhotoURL(ctx context.Context, tx *gorm.DB, serverId, url string) error

	// RemovePhotoURL detaches url from the record's photo list, same
	// version rules as AppendPhotoURL.
	RemovePhotoURL(ctx context.Context, tx *gorm.DB, serverId, url string) error
}

var errRecordMissing = errors.New("record row missing")

func appendURL(existing []byte, url string) ([]byte, error) {
	var urls []string
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &urls); err != nil {
			return nil, err
		}
	}
	for _, u := range urls {
		if u == url {
			return existing, nil
		}
	}
	urls = append(urls, url)
	return json.Marshal(urls)
}

func removeURL(existing []byte, url string) ([]byte, error) {
	var urls []string
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &urls); err != nil {
			return nil, err
		}
	}
	kept := urls[:0]
	for _, u := range urls {
		if u != url {
			kept = append(kept, u)
		}
	}
	return json.Marshal(kept)
}
