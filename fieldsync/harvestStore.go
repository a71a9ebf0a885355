package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agrinova/fieldops-backend/models"
	"github.com/agrinova/fieldops-backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// HarvestPayload is the business-field surface of a harvest entry as devices
// send it. Sync semantics treat it as opaque beyond equality and merge.
type HarvestPayload struct {
	EstateId        int                 `json:"estateId"`
	DivisionId      int                 `json:"divisionId"`
	BlockId         int                 `json:"blockId"`
	HarvestDate     time.Time           `json:"harvestDate"`
	WorkerName      string              `json:"workerName"`
	WorkerNik       string              `json:"workerNik"`
	BunchCount      int                 `json:"bunchCount"`
	WeightKg        decimal.Decimal     `json:"weightKg"`
	LooseFruitKg    decimal.Decimal     `json:"looseFruitKg"`
	RipeBunches     int                 `json:"ripeBunches"`
	UnripeBunches   int                 `json:"unripeBunches"`
	OverripeBunches int                 `json:"overripeBunches"`
	EmptyBunches    int                 `json:"emptyBunches"`
	Notes           *string             `json:"notes,omitempty"`
	Latitude        *float64            `json:"latitude,omitempty"`
	Longitude       *float64            `json:"longitude,omitempty"`
	Status          models.RecordStatus `json:"status,omitempty"`
}

type HarvestStore struct{}

func (HarvestStore) Kind() models.RecordKind { return models.RecordKindHarvest }

func (HarvestStore) Canonicalize(payload json.RawMessage) (json.RawMessage, *ItemError) {
	if len(payload) == 0 {
		return nil, &ItemError{Code: ErrCodeMalformedPayload, Message: "empty payload"}
	}
	var p HarvestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &ItemError{Code: ErrCodeMalformedPayload, Message: err.Error()}
	}
	if p.Status == "" {
		p.Status = models.RecordStatusPending
	}
	out, err := json.Marshal(&p)
	if err != nil {
		return nil, &ItemError{Code: ErrCodeMalformedPayload, Message: err.Error()}
	}
	return out, nil
}

func (HarvestStore) Validate(ctx context.Context, db *gorm.DB, scope *DeviceScope, payload json.RawMessage) *ItemError {
	var p HarvestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return &ItemError{Code: ErrCodeMalformedPayload, Message: err.Error()}
	}
	if !scope.AllowsEstate(p.EstateId) {
		return &ItemError{Code: ErrCodeScopeViolation, Message: fmt.Sprintf("estate %d is outside device scope", p.EstateId)}
	}

	// Blocks are read on every item; check the Redis copy before the table.
	if cached, err := utils.RetrieveRedis[models.Block](p.BlockId); err == nil && cached != nil {
		if cached.DivisionId == p.DivisionId && cached.EstateId == p.EstateId &&
			cached.CompanyId == scope.CompanyId && cached.Active {
			return nil
		}
	}

	var block models.Block
	err := db.WithContext(ctx).
		Where("id = ? AND division_id = ? AND estate_id = ? AND company_id = ? AND active = ?",
			p.BlockId, p.DivisionId, p.EstateId, scope.CompanyId, true).
		First(&block).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ItemError{Code: ErrCodeInvalidReference, Message: fmt.Sprintf("block %d not found in division %d", p.BlockId, p.DivisionId)}
		}
		return &ItemError{Code: ErrCodeSaveError, Message: err.Error()}
	}
	// Cache write failures never block a sync item.
	_ = utils.StoreRedis[models.Block](&block, block.ID)
	return nil
}

func (s HarvestStore) Current(ctx context.Context, tx *gorm.DB, serverId string) (*ServerRecord, error) {
	var rec models.HarvestRecord
	err := tx.WithContext(ctx).Where("id = ?", serverId).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	payload, err := json.Marshal(harvestPayloadFromRecord(&rec))
	if err != nil {
		return nil, err
	}
	return &ServerRecord{
		ServerId:    rec.ID,
		Version:     rec.ServerVersion,
		Payload:     payload,
		Status:      rec.Status,
		LastUpdated: rec.LastUpdated,
		LastWriter:  rec.LastWriterDeviceId,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

func (s HarvestStore) Apply(ctx context.Context, tx *gorm.DB, w ApplyWrite) error {
	var p HarvestPayload
	if err := json.Unmarshal(w.Payload, &p); err != nil {
		return err
	}
	status := w.Status
	if status == "" {
		status = p.Status
	}
	if status == "" {
		status = models.RecordStatusPending
	}

	var existing models.HarvestRecord
	err := tx.WithContext(ctx).Where("id = ?", w.ServerId).First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	notFound := errors.Is(err, gorm.ErrRecordNotFound)

	rec := models.HarvestRecord{
		ID:                 w.ServerId,
		ServerVersion:      w.Version,
		LocalId:            w.LocalId,
		DeviceId:           w.DeviceId,
		CompanyId:          w.CompanyId,
		EstateId:           p.EstateId,
		DivisionId:         p.DivisionId,
		BlockId:            p.BlockId,
		HarvestDate:        p.HarvestDate,
		WorkerName:         p.WorkerName,
		WorkerNik:          p.WorkerNik,
		BunchCount:         p.BunchCount,
		WeightKg:           p.WeightKg,
		LooseFruitKg:       p.LooseFruitKg,
		RipeBunches:        p.RipeBunches,
		UnripeBunches:      p.UnripeBunches,
		OverripeBunches:    p.OverripeBunches,
		EmptyBunches:       p.EmptyBunches,
		Notes:              p.Notes,
		Latitude:           p.Latitude,
		Longitude:          p.Longitude,
		Status:             status,
		LastWriterDeviceId: w.DeviceId,
		LastUpdated:        w.LastUpdated,
	}
	if notFound {
		return tx.WithContext(ctx).Create(&rec).Error
	}

	// Keep origin identity and photo list from the first accepted create.
	rec.LocalId = existing.LocalId
	rec.DeviceId = existing.DeviceId
	rec.PhotoURLs = existing.PhotoURLs
	rec.CreatedAt = existing.CreatedAt
	return tx.WithContext(ctx).Model(&models.HarvestRecord{}).Where("id = ?", w.ServerId).
		Select("*").Omit("id", "created_at").Updates(&rec).Error
}

func (s HarvestStore) UpdatesSince(ctx context.Context, db *gorm.DB, deviceId string, since time.Time, limit int) ([]ServerRecord, error) {
	var recs []models.HarvestRecord
	q := db.WithContext(ctx).
		Where("updated_at > ? AND last_writer_device_id <> ?", since, deviceId).
		Order("updated_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]ServerRecord, 0, len(recs))
	for i := range recs {
		payload, err := json.Marshal(harvestPayloadFromRecord(&recs[i]))
		if err != nil {
			return nil, err
		}
		out = append(out, ServerRecord{
			ServerId:    recs[i].ID,
			Version:     recs[i].ServerVersion,
			Payload:     payload,
			Status:      recs[i].Status,
			LastUpdated: recs[i].LastUpdated,
			LastWriter:  recs[i].LastWriterDeviceId,
			UpdatedAt:   recs[i].UpdatedAt,
		})
	}
	return out, nil
}

func (s HarvestStore) AppendPhotoURL(ctx context.Context, tx *gorm.DB, serverId, url string) error {
	var rec models.HarvestRecord
	if err := tx.WithContext(ctx).Where("id = ?", serverId).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errRecordMissing
		}
		return err
	}
	urls, err := appendURL(rec.PhotoURLs, url)
	if err != nil {
		return err
	}
	// Photo linkage never bumps server_version; skip updated_at too so the
	// pull cursor does not echo a pure photo attach as a record change.
	return tx.WithContext(ctx).Model(&models.HarvestRecord{}).Where("id = ?", serverId).
		UpdateColumn("photo_urls", urls).Error
}

func (s HarvestStore) RemovePhotoURL(ctx context.Context, tx *gorm.DB, serverId, url string) error {
	var rec models.HarvestRecord
	if err := tx.WithContext(ctx).Where("id = ?", serverId).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errRecordMissing
		}
		return err
	}
	urls, err := removeURL(rec.PhotoURLs, url)
	if err != nil {
		return err
	}
	return tx.WithContext(ctx).Model(&models.HarvestRecord{}).Where("id = ?", serverId).
		UpdateColumn("photo_urls", urls).Error
}

func harvestPayloadFromRecord(rec *models.HarvestRecord) *HarvestPayload {
	return &HarvestPayload{
		EstateId:        rec.EstateId,
		DivisionId:      rec.DivisionId,
		BlockId:         rec.BlockId,
		HarvestDate:     rec.HarvestDate,
		WorkerName:      rec.WorkerName,
		WorkerNik:       rec.WorkerNik,
		BunchCount:      rec.BunchCount,
		WeightKg:        rec.WeightKg,
		LooseFruitKg:    rec.LooseFruitKg,
		RipeBunches:     rec.RipeBunches,
		UnripeBunches:   rec.UnripeBunches,
		OverripeBunches: rec.OverripeBunches,
		EmptyBunches:    rec.EmptyBunches,
		Notes:           rec.Notes,
		Latitude:        rec.Latitude,
		Longitude:       rec.Longitude,
		Status:          rec.Status,
	}
}
