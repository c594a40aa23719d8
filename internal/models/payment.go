package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Payment struct {
	ID         string          `gorm:"primaryKey;type:text"`
	OrgID      string          `gorm:"primaryKey;type:text;index"`
	Provider   string          `gorm:"type:varchar(20);not null;index"`
	DriverID   *string         `gorm:"type:text;index"`
	Category   *string         `gorm:"type:text"`
	Amount     decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	Currency   string          `gorm:"type:varchar(10);not null;default:'EUR'"`
	EventTS    int64           `gorm:"index;not null"`
	LastSeenAt time.Time       `gorm:"type:timestamptz;not null"`
	RawJSON    datatypes.JSON  `gorm:"type:jsonb"`
}

func (Payment) TableName() string {
	return "fleet_payments"
}
