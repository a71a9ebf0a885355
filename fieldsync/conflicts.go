package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agrinova/fieldops-backend/models"
	"gorm.io/gorm"
)

// Resolution choices for a held conflict.
const (
	ResolveAcceptLocal  = "ACCEPT_LOCAL"
	ResolveAcceptRemote = "ACCEPT_REMOTE"
	ResolveIgnore       = "IGNORE"
)

// ListConflicts returns held conflicts for review, newest first.
func (c *Coordinator) ListConflicts(ctx context.Context, status models.ConflictStatus, kind models.RecordKind, limit int) ([]models.SyncConflict, error) {
	if limit <= 0 {
		limit = 100
	}
	q := c.DB.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if kind != "" {
		q = q.Where("record_kind = ?", kind)
	}
	var conflicts []models.SyncConflict
	if err := q.Find(&conflicts).Error; err != nil {
		return nil, err
	}
	return conflicts, nil
}

// ResolveConflict settles a held conflict. ACCEPT_LOCAL pushes the parked
// client copy through the same apply-and-advance path as a live sync, so the
// version bumps and an outbox event fires; ACCEPT_REMOTE and IGNORE leave
// record state untouched. Resolving an already-settled conflict fails rather
// than silently re-applying.
func (c *Coordinator) ResolveConflict(ctx context.Context, conflictId int, choice, resolvedBy string) (*models.SyncConflict, error) {
	var conflict models.SyncConflict
	if err := c.DB.WithContext(ctx).Where("id = ?", conflictId).First(&conflict).Error; err != nil {
		return nil, err
	}
	if conflict.Status != models.ConflictStatusPending {
		return nil, fmt.Errorf("conflict %d is already %s", conflictId, conflict.Status)
	}

	store, ok := c.Stores[conflict.RecordKind]
	if !ok {
		return nil, fmt.Errorf("unsupported record kind %s", conflict.RecordKind)
	}

	finalStatus := models.ConflictStatusResolved
	var event *ChangeEvent

	switch choice {
	case ResolveAcceptLocal:
		rev := &RecordRevision{LocalId: conflict.LocalId, LastUpdated: time.Now().UTC()}
		scope := &DeviceScope{DeviceId: conflict.DeviceId, CompanyId: conflict.CompanyId}
		for attempt := 0; attempt < 2; attempt++ {
			err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				current, err := store.Current(ctx, tx, conflict.ServerId)
				if err != nil {
					return err
				}
				if current == nil {
					return fmt.Errorf("record %s no longer exists", conflict.ServerId)
				}
				payload, itemErr := store.Canonicalize(conflict.ClientData)
				if itemErr != nil {
					return errors.New(itemErr.Message)
				}
				version, err := c.persist(ctx, tx, store, scope, rev, conflict.ServerId, current.Version, payload, models.ChangeTypeUpdated, current.Payload)
				if err != nil {
					return err
				}
				event = &ChangeEvent{Kind: conflict.RecordKind, ServerId: conflict.ServerId, ServerVersion: version, ChangeType: models.ChangeTypeUpdated}
				return nil
			})
			if err == nil {
				break
			}
			if errors.Is(err, errVersionRace) && attempt == 0 {
				continue
			}
			return nil, err
		}
	case ResolveAcceptRemote:
		// Server copy stands as-is.
	case ResolveIgnore:
		finalStatus = models.ConflictStatusIgnored
	default:
		return nil, fmt.Errorf("unknown resolution choice %q", choice)
	}

	now := time.Now().UTC()
	conflict.Status = finalStatus
	conflict.Resolution = &choice
	conflict.ResolvedBy = &resolvedBy
	conflict.ResolvedAt = &now
	err := c.DB.WithContext(ctx).Model(&models.SyncConflict{}).
		Where("id = ?", conflict.ID).
		Updates(map[string]interface{}{
			"status":      finalStatus,
			"resolution":  choice,
			"resolved_by": resolvedBy,
			"resolved_at": now,
		}).Error
	if err != nil {
		return nil, err
	}
	if event != nil && c.Hub != nil {
		c.Hub.Publish(*event)
	}
	return &conflict, nil
}
