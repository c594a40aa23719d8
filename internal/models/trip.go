package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Trip mirrors the Bolt fleet order payload; order_reference is the
// partner-native dedup key.
type Trip struct {
	OrderReference  string           `gorm:"primaryKey;type:text"`
	OrgID           string           `gorm:"primaryKey;type:text;index"`
	Provider        string           `gorm:"type:varchar(20);not null;index"`
	CompanyID       *int64           `gorm:"index"`
	DriverUUID      *string          `gorm:"type:text;index"`
	DriverName      *string          `gorm:"type:text"`
	DriverPhone     *string          `gorm:"type:text"`
	PaymentMethod   *string          `gorm:"type:text"`
	OrderStatus     *string          `gorm:"type:text;index"`
	OrderCreatedTS  int64            `gorm:"index;not null"`
	AcceptedTS      *int64           `gorm:""`
	PickupTS        *int64           `gorm:""`
	DropOffTS       *int64           `gorm:""`
	FinishedTS      *int64           `gorm:""`
	PickupAddress   *string          `gorm:"type:text"`
	RideDistance    float64          `gorm:"not null;default:0"`
	RidePrice       decimal.Decimal  `gorm:"type:numeric(20,6);not null;default:0"`
	BookingFee      decimal.Decimal  `gorm:"type:numeric(20,6);not null;default:0"`
	TollFee         decimal.Decimal  `gorm:"type:numeric(20,6);not null;default:0"`
	CancellationFee decimal.Decimal  `gorm:"type:numeric(20,6);not null;default:0"`
	Tip             decimal.Decimal  `gorm:"type:numeric(20,6);not null;default:0"`
	NetEarnings     *decimal.Decimal `gorm:"type:numeric(20,6)"`
	Currency        string           `gorm:"type:varchar(10);not null;default:'EUR'"`
	VehicleModel    *string          `gorm:"type:text"`
	VehiclePlate    *string          `gorm:"type:text"`
	LastSeenAt      time.Time        `gorm:"type:timestamptz;not null"`
	RawJSON         datatypes.JSON   `gorm:"type:jsonb"`
}

func (Trip) TableName() string {
	return "fleet_trips"
}
