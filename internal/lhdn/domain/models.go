// Package domain contains persistence models and contracts for the LHDN
// MyInvois integration.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "PENDING"
	SubmissionSubmitted SubmissionStatus = "SUBMITTED"
	SubmissionValidated SubmissionStatus = "VALIDATED"
	SubmissionRejected  SubmissionStatus = "REJECTED"
)

// LhdnSubmission records one submission attempt. The row is written PENDING
// before the network call so a crash mid-submit still leaves a trace.
type LhdnSubmission struct {
	ID                snowflake.ID     `gorm:"primaryKey"`
	InvoiceID         snowflake.ID     `gorm:"not null;index"`
	BusinessID        snowflake.ID     `gorm:"not null;index"`
	SubmissionUid     *string          `gorm:"type:text"`
	DocumentUuid      *string          `gorm:"type:text"`
	SubmissionPayload string           `gorm:"type:text;not null"`
	ResponsePayload   *string          `gorm:"type:text"`
	Status            SubmissionStatus `gorm:"type:text;not null;default:'PENDING'"`
	ErrorMessage      *string          `gorm:"type:text"`
	SubmittedAt       *time.Time       `gorm:""`
	ValidatedAt       *time.Time       `gorm:""`
	CreatedAt         time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LhdnSubmission) TableName() string { return "lhdn_submissions" }

// LhdnToken caches one OAuth access token per business. The token itself is
// encrypted at rest and ExpiresAt already carries the safety buffer, so a
// row is usable iff ExpiresAt is in the future.
type LhdnToken struct {
	ID                   snowflake.ID `gorm:"primaryKey"`
	BusinessID           snowflake.ID `gorm:"not null;uniqueIndex"`
	AccessTokenEncrypted string       `gorm:"type:text;not null"`
	ExpiresAt            time.Time    `gorm:"not null"`
	CreatedAt            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LhdnToken) TableName() string { return "lhdn_tokens" }
