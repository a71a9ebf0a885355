package middlewares

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/agrinova/fieldops-backend/appctx"
	"github.com/agrinova/fieldops-backend/config"
	"github.com/agrinova/fieldops-backend/fieldsync"
	"github.com/agrinova/fieldops-backend/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const deviceScopeKey = "deviceScope"

// DeviceAuthMiddleware resolves the device token to its registration and
// attaches the authorized scope. Registrations are cached in Redis so the
// hot sync path skips the database; deactivating a device takes effect when
// the cache entry expires.
func DeviceAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("X-Device-Token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing device token"})
			c.Abort()
			return
		}

		scope, err := resolveDeviceScope(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown or inactive device"})
			c.Abort()
			return
		}

		ctx := appctx.Set(c.Request.Context(), appctx.ContextKeyToken, token)
		ctx = appctx.Set(ctx, appctx.ContextKeyDeviceId, scope.DeviceId)
		ctx = appctx.Set(ctx, appctx.ContextKeyCompanyId, scope.CompanyId)
		ctx = appctx.Set(ctx, appctx.ContextKeyUserId, scope.UserId)
		ctx = appctx.Set(ctx, appctx.ContextKeyUsername, scope.UserName)
		c.Request = c.Request.WithContext(ctx)
		c.Set(deviceScopeKey, scope)
		c.Next()
	}
}

// DeviceScopeFromGin returns the scope attached by DeviceAuthMiddleware.
func DeviceScopeFromGin(c *gin.Context) (*fieldsync.DeviceScope, bool) {
	v, ok := c.Get(deviceScopeKey)
	if !ok {
		return nil, false
	}
	scope, ok := v.(*fieldsync.DeviceScope)
	return scope, ok
}

func resolveDeviceScope(ctx context.Context, token string) (*fieldsync.DeviceScope, error) {
	cacheKey := "DeviceToken:" + token

	var cached *fieldsync.DeviceScope
	if exists, err := config.GetRedisObject(cacheKey, &cached); err == nil && exists && cached != nil {
		return cached, nil
	}

	var reg models.DeviceRegistration
	err := config.GetDB().WithContext(ctx).
		Where("token = ? AND active = ?", token, true).
		First(&reg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("device not registered")
		}
		return nil, err
	}

	var estateIds []int
	if len(reg.EstateIds) > 0 {
		if err := json.Unmarshal(reg.EstateIds, &estateIds); err != nil {
			return nil, err
		}
	}

	scope := &fieldsync.DeviceScope{
		DeviceId:  reg.DeviceId,
		CompanyId: reg.CompanyId,
		UserId:    reg.UserId,
		UserName:  reg.UserName,
		EstateIds: estateIds,
	}
	if err := config.SetRedisObject(cacheKey, scope, 15*time.Minute); err != nil {
		config.LogError(config.GetLogger(), "middlewares", "resolveDeviceScope", "failed to cache device scope", reg.DeviceId, err)
	}
	return scope, nil
}
