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

// GateLogPayload is the business-field surface of a vehicle gate-check entry.
type GateLogPayload struct {
	EstateId         int                 `json:"estateId"`
	GateName         string              `json:"gateName"`
	DriverName       string              `json:"driverName"`
	VehiclePlate     string              `json:"vehiclePlate"`
	VehicleType      string              `json:"vehicleType"`
	Destination      string              `json:"destination"`
	CargoDescription string              `json:"cargoDescription"`
	CargoWeightKg    decimal.Decimal     `json:"cargoWeightKg"`
	EntryTime        *time.Time          `json:"entryTime,omitempty"`
	ExitTime         *time.Time          `json:"exitTime,omitempty"`
	Notes            *string             `json:"notes,omitempty"`
	Status           models.RecordStatus `json:"status,omitempty"`
}

type GateLogStore struct{}

func (GateLogStore) Kind() models.RecordKind { return models.RecordKindGateLog }

func (GateLogStore) Canonicalize(payload json.RawMessage) (json.RawMessage, *ItemError) {
	if len(payload) == 0 {
		return nil, &ItemError{Code: ErrCodeMalformedPayload, Message: "empty payload"}
	}
	var p GateLogPayload
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

func (GateLogStore) Validate(ctx context.Context, db *gorm.DB, scope *DeviceScope, payload json.RawMessage) *ItemError {
	var p GateLogPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return &ItemError{Code: ErrCodeMalformedPayload, Message: err.Error()}
	}
	if !scope.AllowsEstate(p.EstateId) {
		return &ItemError{Code: ErrCodeScopeViolation, Message: fmt.Sprintf("estate %d is outside device scope", p.EstateId)}
	}
	if p.VehiclePlate == "" {
		return &ItemError{Code: ErrCodeMalformedPayload, Message: "vehiclePlate is required"}
	}

	if cached, err := utils.RetrieveRedis[models.Estate](p.EstateId); err == nil && cached != nil {
		if cached.CompanyId == scope.CompanyId && cached.Active {
			return nil
		}
	}

	var estate models.Estate
	err := db.WithContext(ctx).
		Where("id = ? AND company_id = ? AND active = ?", p.EstateId, scope.CompanyId, true).
		First(&estate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ItemError{Code: ErrCodeInvalidReference, Message: fmt.Sprintf("estate %d not found", p.EstateId)}
		}
		return &ItemError{Code: ErrCodeSaveError, Message: err.Error()}
	}
	_ = utils.StoreRedis[models.Estate](&estate, estate.ID)
	return nil
}

func (s GateLogStore) Current(ctx context.Context, tx *gorm.DB, serverId string) (*ServerRecord, error) {
	var rec models.GateLog
	err := tx.WithContext(ctx).Where("id = ?", serverId).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	payload, err := json.Marshal(gateLogPayloadFromRecord(&rec))
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

func (s GateLogStore) Apply(ctx context.Context, tx *gorm.DB, w ApplyWrite) error {
	var p GateLogPayload
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

	var existing models.GateLog
	err := tx.WithContext(ctx).Where("id = ?", w.ServerId).First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	notFound := errors.Is(err, gorm.ErrRecordNotFound)

	rec := models.GateLog{
		ID:                 w.ServerId,
		ServerVersion:      w.Version,
		LocalId:            w.LocalId,
		DeviceId:           w.DeviceId,
		CompanyId:          w.CompanyId,
		EstateId:           p.EstateId,
		GateName:           p.GateName,
		DriverName:         p.DriverName,
		VehiclePlate:       p.VehiclePlate,
		VehicleType:        p.VehicleType,
		Destination:        p.Destination,
		CargoDescription:   p.CargoDescription,
		CargoWeightKg:      p.CargoWeightKg,
		EntryTime:          p.EntryTime,
		ExitTime:           p.ExitTime,
		Notes:              p.Notes,
		Status:             status,
		LastWriterDeviceId: w.DeviceId,
		LastUpdated:        w.LastUpdated,
	}
	if notFound {
		// Gate pass number is best effort: a cold Redis never blocks an
		// accept, the pass just stays unnumbered.
		if seq, err := utils.GetSequence[models.GateLog](ctx, w.CompanyId); err == nil {
			rec.SequenceNo = seq
		}
		return tx.WithContext(ctx).Create(&rec).Error
	}

	rec.LocalId = existing.LocalId
	rec.DeviceId = existing.DeviceId
	rec.PhotoURLs = existing.PhotoURLs
	rec.CreatedAt = existing.CreatedAt
	rec.SequenceNo = existing.SequenceNo
	return tx.WithContext(ctx).Model(&models.GateLog{}).Where("id = ?", w.ServerId).
		Select("*").Omit("id", "created_at").Updates(&rec).Error
}

func (s GateLogStore) UpdatesSince(ctx context.Context, db *gorm.DB, deviceId string, since time.Time, limit int) ([]ServerRecord, error) {
	var recs []models.GateLog
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
		payload, err := json.Marshal(gateLogPayloadFromRecord(&recs[i]))
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

func (s GateLogStore) AppendPhotoURL(ctx context.Context, tx *gorm.DB, serverId, url string) error {
	var rec models.GateLog
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
	return tx.WithContext(ctx).Model(&models.GateLog{}).Where("id = ?", serverId).
		UpdateColumn("photo_urls", urls).Error
}

func (s GateLogStore) RemovePhotoURL(ctx context.Context, tx *gorm.DB, serverId, url string) error {
	var rec models.GateLog
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
	return tx.WithContext(ctx).Model(&models.GateLog{}).Where("id = ?", serverId).
		UpdateColumn("photo_urls", urls).Error
}

func gateLogPayloadFromRecord(rec *models.GateLog) *GateLogPayload {
	return &GateLogPayload{
		EstateId:         rec.EstateId,
		GateName:         rec.GateName,
		DriverName:       rec.DriverName,
		VehiclePlate:     rec.VehiclePlate,
		VehicleType:      rec.VehicleType,
		Destination:      rec.Destination,
		CargoDescription: rec.CargoDescription,
		CargoWeightKg:    rec.CargoWeightKg,
		EntryTime:        rec.EntryTime,
		ExitTime:         rec.ExitTime,
		Notes:            rec.Notes,
		Status:           rec.Status,
	}
}
