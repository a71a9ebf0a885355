package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Company struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	Code      string    `gorm:"size:20;uniqueIndex" json:"code"`
	Active    bool      `gorm:"not null;default:1" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Estate struct {
	ID        int       `gorm:"primary_key" json:"id"`
	CompanyId string    `gorm:"size:64;not null;index" json:"company_id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	Code      string    `gorm:"size:20;index" json:"code"`
	Timezone  string    `gorm:"size:40;default:'Asia/Jakarta'" json:"timezone"`
	Active    bool      `gorm:"not null;default:1" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Division struct {
	ID        int       `gorm:"primary_key" json:"id"`
	EstateId  int       `gorm:"not null;index" json:"estate_id"`
	CompanyId string    `gorm:"size:64;not null;index" json:"company_id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	Code      string    `gorm:"size:20;index" json:"code"`
	Active    bool      `gorm:"not null;default:1" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Block struct {
	ID          int             `gorm:"primary_key" json:"id"`
	DivisionId  int             `gorm:"not null;index" json:"division_id"`
	EstateId    int             `gorm:"not null;index" json:"estate_id"`
	CompanyId   string          `gorm:"size:64;not null;index" json:"company_id"`
	Name        string          `gorm:"size:200;not null" json:"name"`
	Code        string          `gorm:"size:20;index" json:"code"`
	AreaHa      decimal.Decimal `gorm:"type:decimal(10,2)" json:"area_ha"`
	PlantedYear int             `json:"planted_year"`
	Active      bool            `gorm:"not null;default:1" json:"active"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type Vehicle struct {
	ID        int       `gorm:"primary_key" json:"id"`
	CompanyId string    `gorm:"size:64;not null;index" json:"company_id"`
	Plate     string    `gorm:"size:20;not null;uniqueIndex" json:"plate"`
	Type      string    `gorm:"size:40" json:"type"`
	OwnerName string    `gorm:"size:120" json:"owner_name"`
	Active    bool      `gorm:"not null;default:1" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DeviceRegistration binds a mobile device to its user and write scope. The
// token is what the device presents on every call; the middleware resolves it
// to device + scope, caching in Redis.
type DeviceRegistration struct {
	ID        int    `gorm:"primary_key" json:"id"`
	DeviceId  string `gorm:"size:64;not null;uniqueIndex" json:"device_id"`
	Token     string `gorm:"size:128;not null;uniqueIndex" json:"token"`
	UserId    int    `gorm:"not null" json:"user_id"`
	UserName  string `gorm:"size:120" json:"user_name"`
	Phone     string `gorm:"size:32" json:"phone"`
	CompanyId string `gorm:"size:64;not null;index" json:"company_id"`

	// JSON-encoded []int of estates this device may write to.
	EstateIds []byte `gorm:"type:json" json:"estate_ids"`

	Active    bool      `gorm:"not null;default:1" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
