package models

import "time"

// CompanyMapping binds a tenant org to the partner-native company id
// resolved through the partner's list-companies call.
type CompanyMapping struct {
	OrgID     string    `gorm:"primaryKey;type:text"`
	Provider  string    `gorm:"primaryKey;type:varchar(20)"`
	CompanyID int64     `gorm:"not null"`
	Name      *string   `gorm:"type:text"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null"`
}

func (CompanyMapping) TableName() string {
	return "company_mappings"
}
