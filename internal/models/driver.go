package models

import (
	"time"

	"gorm.io/datatypes"
)

type Driver struct {
	ID         string         `gorm:"primaryKey;type:text"`
	OrgID      string         `gorm:"primaryKey;type:text;index"`
	Provider   string         `gorm:"primaryKey;type:varchar(20)"`
	FirstName  string         `gorm:"type:text"`
	LastName   string         `gorm:"type:text"`
	Email      *string        `gorm:"type:text;index"`
	Phone      *string        `gorm:"type:text"`
	ImageURL   *string        `gorm:"type:text"`
	Active     bool           `gorm:"not null;default:true"`
	LastSeenAt time.Time      `gorm:"type:timestamptz;not null"`
	RawJSON    datatypes.JSON `gorm:"type:jsonb"`
}

func (Driver) TableName() string {
	return "fleet_drivers"
}
