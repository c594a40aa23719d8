package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Earning holds one driver's portal earnings for one period. The ID is
// a composite of driver id, period start date, and period kind because
// the portal exposes no native identifier.
type Earning struct {
	ID                 string          `gorm:"primaryKey;type:text"`
	OrgID              string          `gorm:"primaryKey;type:text;index"`
	Provider           string          `gorm:"type:varchar(20);not null;index"`
	DriverID           string          `gorm:"type:text;not null;index"`
	Period             string          `gorm:"type:varchar(10);not null"`
	StartDate          time.Time       `gorm:"type:date;not null;index"`
	EndDate            time.Time       `gorm:"type:date;not null"`
	GrossEarnings      decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	NetEarnings        decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	CashCollected      decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	CardGrossEarnings  decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	CashCommissionFees decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	CardCommissionFees decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	CancellationFees   decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	Bonuses            decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	TerminatedRides    int             `gorm:"not null;default:0"`
	CancelledRides     int             `gorm:"not null;default:0"`
	Currency           string          `gorm:"type:varchar(10);not null;default:'EUR'"`
	LastSeenAt         time.Time       `gorm:"type:timestamptz;not null"`
	RawJSON            datatypes.JSON  `gorm:"type:jsonb"`
}

func (Earning) TableName() string {
	return "fleet_earnings"
}
