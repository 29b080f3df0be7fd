package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-verify-bot/internal/domain"
)

// Store exposes the package functions as methods so services can depend on
// an interface and tests can inject failures.
type Store struct{}

func (Store) CreateApplicant(ctx context.Context, db *gorm.DB, a *domain.Applicant) error {
	return CreateApplicant(ctx, db, a)
}

func (Store) GetApplicant(ctx context.Context, db *gorm.DB, id string) (*domain.Applicant, error) {
	return GetApplicant(ctx, db, id)
}

func (Store) UpdateApplicant(ctx context.Context, db *gorm.DB, id string, a *domain.Applicant) error {
	return UpdateApplicant(ctx, db, id, a)
}

func (Store) DeleteApplicant(ctx context.Context, db *gorm.DB, id string) error {
	return DeleteApplicant(ctx, db, id)
}

func (Store) ScanInProgress(ctx context.Context, db *gorm.DB) ([]domain.Applicant, error) {
	return ScanInProgress(ctx, db)
}

func (Store) EmailHolder(ctx context.Context, db *gorm.DB, email string) (string, error) {
	return EmailHolder(ctx, db, email)
}

func (Store) AppendStatusChange(ctx context.Context, db *gorm.DB, c *domain.StatusChange) error {
	return AppendStatusChange(ctx, db, c)
}
