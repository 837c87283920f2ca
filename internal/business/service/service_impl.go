package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	bizdomain "github.com/smallbiznis/einvois/internal/business/domain"
	"github.com/smallbiznis/einvois/internal/clock"
	"github.com/smallbiznis/einvois/internal/crypto"
	"github.com/smallbiznis/einvois/pkg/db"
	"github.com/smallbiznis/einvois/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Cipher *crypto.Cipher
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	cipher *crypto.Cipher
	repo   repository.Repository[bizdomain.Business]
}

func NewService(p Params) bizdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("business.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		cipher: p.Cipher,
		repo:   repository.ProvideStore[bizdomain.Business](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req bizdomain.CreateBusinessRequest) (bizdomain.Business, error) {
	now := s.clock.Now()
	countryCode := strings.TrimSpace(req.CountryCode)
	if countryCode == "" {
		countryCode = "MYS"
	}

	business := bizdomain.Business{
		ID:                    s.genID.Generate(),
		Name:                  strings.TrimSpace(req.Name),
		TIN:                   strings.TrimSpace(req.TIN),
		RegistrationNumber:    strings.TrimSpace(req.RegistrationNumber),
		MSICCode:              strings.TrimSpace(req.MSICCode),
		SSTRegistrationNumber: req.SSTRegistrationNumber,
		AddressLine0:          req.AddressLine0,
		AddressLine1:          req.AddressLine1,
		AddressLine2:          req.AddressLine2,
		PostalZone:            req.PostalZone,
		CityName:              req.CityName,
		StateCode:             req.StateCode,
		CountryCode:           countryCode,
		Email:                 strings.TrimSpace(req.Email),
		Phone:                 req.Phone,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.repo.Create(ctx, &business); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return bizdomain.Business{}, bizdomain.ErrDuplicateTIN
		}
		return bizdomain.Business{}, err
	}

	s.log.Info("business created",
		zap.String("business_id", business.ID.String()),
		zap.String("tin", business.TIN),
	)
	return business, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (bizdomain.Business, error) {
	business, err := s.repo.FindOne(ctx, &bizdomain.Business{ID: id})
	if err != nil {
		return bizdomain.Business{}, err
	}
	if business == nil {
		return bizdomain.Business{}, bizdomain.ErrBusinessNotFound
	}
	return *business, nil
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req bizdomain.UpdateBusinessRequest) (bizdomain.Business, error) {
	business, err := s.GetByID(ctx, id)
	if err != nil {
		return bizdomain.Business{}, err
	}

	if req.Name != nil {
		business.Name = strings.TrimSpace(*req.Name)
	}
	if req.TIN != nil {
		business.TIN = strings.TrimSpace(*req.TIN)
	}
	if req.RegistrationNumber != nil {
		business.RegistrationNumber = strings.TrimSpace(*req.RegistrationNumber)
	}
	if req.MSICCode != nil {
		business.MSICCode = strings.TrimSpace(*req.MSICCode)
	}
	if req.SSTRegistrationNumber != nil {
		business.SSTRegistrationNumber = req.SSTRegistrationNumber
	}
	if req.AddressLine0 != nil {
		business.AddressLine0 = req.AddressLine0
	}
	if req.AddressLine1 != nil {
		business.AddressLine1 = req.AddressLine1
	}
	if req.AddressLine2 != nil {
		business.AddressLine2 = req.AddressLine2
	}
	if req.PostalZone != nil {
		business.PostalZone = req.PostalZone
	}
	if req.CityName != nil {
		business.CityName = req.CityName
	}
	if req.StateCode != nil {
		business.StateCode = req.StateCode
	}
	if req.CountryCode != nil {
		business.CountryCode = strings.TrimSpace(*req.CountryCode)
	}
	if req.Email != nil {
		business.Email = strings.TrimSpace(*req.Email)
	}
	if req.Phone != nil {
		business.Phone = req.Phone
	}
	business.UpdatedAt = s.clock.Now()

	if err := s.db.WithContext(ctx).Save(&business).Error; err != nil {
		return bizdomain.Business{}, err
	}
	return business, nil
}

func (s *Service) SetLHDNCredentials(ctx context.Context, id snowflake.ID, req bizdomain.SetLHDNCredentialsRequest) error {
	business, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	clientID, err := s.cipher.Encrypt(strings.TrimSpace(req.ClientID))
	if err != nil {
		return err
	}
	clientSecret, err := s.cipher.Encrypt(strings.TrimSpace(req.ClientSecret))
	if err != nil {
		return err
	}

	business.LHDNClientIDEncrypted = &clientID
	business.LHDNClientSecretEncrypted = &clientSecret
	business.UpdatedAt = s.clock.Now()

	if err := s.db.WithContext(ctx).Save(&business).Error; err != nil {
		return err
	}

	s.log.Info("lhdn credentials updated", zap.String("business_id", id.String()))
	return nil
}

// DecryptLHDNCredentials decrypts the stored pair at the moment of use.
func (s *Service) DecryptLHDNCredentials(ctx context.Context, business bizdomain.Business) (bizdomain.LHDNCredentials, error) {
	_ = ctx
	if !business.HasLHDNCredentials() {
		return bizdomain.LHDNCredentials{}, bizdomain.ErrCredentialsMissing
	}

	clientID, err := s.cipher.Decrypt(*business.LHDNClientIDEncrypted)
	if err != nil {
		return bizdomain.LHDNCredentials{}, err
	}
	clientSecret, err := s.cipher.Decrypt(*business.LHDNClientSecretEncrypted)
	if err != nil {
		return bizdomain.LHDNCredentials{}, err
	}

	return bizdomain.LHDNCredentials{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}, nil
}
