package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agrinova/fieldops-backend/config"
	"github.com/agrinova/fieldops-backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const summaryHandlerName = "harvest-daily-summary"

type harvestEventFields struct {
	EstateId     int             `json:"estateId"`
	DivisionId   int             `json:"divisionId"`
	BlockId      int             `json:"blockId"`
	HarvestDate  time.Time       `json:"harvestDate"`
	BunchCount   int             `json:"bunchCount"`
	WeightKg     decimal.Decimal `json:"weightKg"`
	LooseFruitKg decimal.Decimal `json:"looseFruitKg"`
	Status       string          `json:"status"`
}

// ProcessSyncEvent maintains the harvest daily summary from one change
// event. Idempotency is DB-backed on (company, handler, message key), so
// Pub/Sub redeliveries of the same event version never double-count.
func ProcessSyncEvent(ctx context.Context, logger *logrus.Logger, m config.PubSubMessage) error {
	if m.ReferenceType != string(models.RecordKindHarvest) {
		// Gate log events have no summary consumer yet; ack them.
		return nil
	}
	if m.Action == string(models.ChangeTypeConflictHeld) {
		// Nothing was applied server-side; nothing to count.
		return nil
	}

	db := config.GetDB()
	if db == nil {
		return errors.New("db is nil")
	}

	messageKey := fmt.Sprintf("%s:%s:%d:%s", m.ReferenceType, m.ReferenceId, m.ServerVersion, m.Action)
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip, err := BeginIdempotency(tx, m.CompanyId, summaryHandlerName, messageKey)
		if err != nil {
			return err
		}
		if skip {
			logger.WithFields(logrus.Fields{
				"module":      "workflow",
				"handler":     summaryHandlerName,
				"message_key": messageKey,
			}).Info("already processed, skipping")
			return nil
		}

		if err := applySummaryDelta(tx, m); err != nil {
			_ = MarkIdempotencyFailed(tx, m.CompanyId, summaryHandlerName, messageKey, err)
			return err
		}
		return MarkIdempotencySucceeded(tx, m.CompanyId, summaryHandlerName, messageKey)
	})
}

// applySummaryDelta removes the old payload's contribution and adds the new
// one's. A record entering DELETED status contributes nothing, which makes
// soft deletes fall out of the same arithmetic.
func applySummaryDelta(tx *gorm.DB, m config.PubSubMessage) error {
	if len(m.OldObj) > 0 {
		var old harvestEventFields
		if err := json.Unmarshal(m.OldObj, &old); err != nil {
			return err
		}
		if old.Status != string(models.RecordStatusDeleted) {
			if err := adjustSummary(tx, m.CompanyId, &old, -1); err != nil {
				return err
			}
		}
	}
	if len(m.NewObj) > 0 {
		var next harvestEventFields
		if err := json.Unmarshal(m.NewObj, &next); err != nil {
			return err
		}
		if next.Status != string(models.RecordStatusDeleted) {
			if err := adjustSummary(tx, m.CompanyId, &next, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

func adjustSummary(tx *gorm.DB, companyId string, fields *harvestEventFields, sign int) error {
	day := fields.HarvestDate.Truncate(24 * time.Hour)

	var summary models.HarvestDailySummary
	err := tx.Where("company_id = ? AND block_id = ? AND harvest_date = ?", companyId, fields.BlockId, day).
		First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		summary = models.HarvestDailySummary{
			CompanyId:    companyId,
			EstateId:     fields.EstateId,
			DivisionId:   fields.DivisionId,
			BlockId:      fields.BlockId,
			HarvestDate:  day,
			WeightKg:     decimal.Zero,
			LooseFruitKg: decimal.Zero,
		}
		if err := tx.Create(&summary).Error; err != nil {
			if !models.IsDuplicateKeyErr(err) {
				return err
			}
			if err := tx.Where("company_id = ? AND block_id = ? AND harvest_date = ?", companyId, fields.BlockId, day).
				First(&summary).Error; err != nil {
				return err
			}
		}
	} else if err != nil {
		return err
	}

	multiplier := decimal.NewFromInt(int64(sign))
	return tx.Model(&models.HarvestDailySummary{}).
		Where("id = ?", summary.ID).
		Updates(map[string]interface{}{
			"record_count":   gorm.Expr("record_count + ?", sign),
			"bunch_count":    gorm.Expr("bunch_count + ?", sign*fields.BunchCount),
			"weight_kg":      gorm.Expr("weight_kg + ?", fields.WeightKg.Mul(multiplier)),
			"loose_fruit_kg": gorm.Expr("loose_fruit_kg + ?", fields.LooseFruitKg.Mul(multiplier)),
		}).Error
}
