// Package domain contains persistence models for business profiles.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Business is the supplier profile that owns invoices and carries the
// LHDN client credentials used for submissions.
type Business struct {
	ID                        snowflake.ID `gorm:"primaryKey"`
	Name                      string       `gorm:"type:text;not null"`
	TIN                       string       `gorm:"type:text;not null"`
	RegistrationNumber        string       `gorm:"type:text;not null"`
	MSICCode                  string       `gorm:"type:text;not null"`
	SSTRegistrationNumber     *string      `gorm:"type:text"`
	AddressLine0              *string      `gorm:"type:text"`
	AddressLine1              *string      `gorm:"type:text"`
	AddressLine2              *string      `gorm:"type:text"`
	PostalZone                *string      `gorm:"type:text"`
	CityName                  *string      `gorm:"type:text"`
	StateCode                 *string      `gorm:"type:text"`
	CountryCode               string       `gorm:"type:text;not null;default:'MYS'"`
	Email                     string       `gorm:"type:text;not null"`
	Phone                     *string      `gorm:"type:text"`
	LHDNClientIDEncrypted     *string      `gorm:"type:text"`
	LHDNClientSecretEncrypted *string      `gorm:"type:text"`
	IsActive                  bool         `gorm:"not null;default:true"`
	CreatedAt                 time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt                 time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Business) TableName() string { return "businesses" }

// HasLHDNCredentials reports whether both encrypted credentials are present.
func (b Business) HasLHDNCredentials() bool {
	return b.LHDNClientIDEncrypted != nil && *b.LHDNClientIDEncrypted != "" &&
		b.LHDNClientSecretEncrypted != nil && *b.LHDNClientSecretEncrypted != ""
}
