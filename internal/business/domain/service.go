package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateBusinessRequest struct {
	Name                  string  `json:"name" validate:"required"`
	TIN                   string  `json:"tin" validate:"required"`
	RegistrationNumber    string  `json:"registration_number" validate:"required"`
	MSICCode              string  `json:"msic_code" validate:"required"`
	SSTRegistrationNumber *string `json:"sst_registration_number"`
	AddressLine0          *string `json:"address_line0"`
	AddressLine1          *string `json:"address_line1"`
	AddressLine2          *string `json:"address_line2"`
	PostalZone            *string `json:"postal_zone"`
	CityName              *string `json:"city_name"`
	StateCode             *string `json:"state_code"`
	CountryCode           string  `json:"country_code"`
	Email                 string  `json:"email" validate:"required,email"`
	Phone                 *string `json:"phone"`
}

type UpdateBusinessRequest struct {
	Name                  *string `json:"name"`
	TIN                   *string `json:"tin"`
	RegistrationNumber    *string `json:"registration_number"`
	MSICCode              *string `json:"msic_code"`
	SSTRegistrationNumber *string `json:"sst_registration_number"`
	AddressLine0          *string `json:"address_line0"`
	AddressLine1          *string `json:"address_line1"`
	AddressLine2          *string `json:"address_line2"`
	PostalZone            *string `json:"postal_zone"`
	CityName              *string `json:"city_name"`
	StateCode             *string `json:"state_code"`
	CountryCode           *string `json:"country_code"`
	Email                 *string `json:"email" validate:"omitempty,email"`
	Phone                 *string `json:"phone"`
}

type SetLHDNCredentialsRequest struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
}

// LHDNCredentials is the decrypted pair, only ever held in memory.
type LHDNCredentials struct {
	ClientID     string
	ClientSecret string
}

type Service interface {
	Create(ctx context.Context, req CreateBusinessRequest) (Business, error)
	GetByID(ctx context.Context, id snowflake.ID) (Business, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateBusinessRequest) (Business, error)
	SetLHDNCredentials(ctx context.Context, id snowflake.ID, req SetLHDNCredentialsRequest) error
	DecryptLHDNCredentials(ctx context.Context, business Business) (LHDNCredentials, error)
}

var (
	ErrBusinessNotFound   = errors.New("business_not_found")
	ErrCredentialsMissing = errors.New("lhdn_credentials_missing")
	ErrDuplicateTIN       = errors.New("duplicate_tin")
)
