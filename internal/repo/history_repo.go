package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-verify-bot/internal/domain"
)

// AppendStatusChange records one committed transition. Call it with the same
// transaction handle that persisted the new status.
func AppendStatusChange(ctx context.Context, db *gorm.DB, c *domain.StatusChange) error {
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(c).Error
}

// ListStatusChanges returns the transition trail of an applicant, oldest first.
func ListStatusChanges(ctx context.Context, db *gorm.DB, applicantID string) ([]domain.StatusChange, error) {
	var out []domain.StatusChange
	err := db.WithContext(ctx).
		Where("applicant_id = ?", applicantID).
		Order("at ASC, id ASC").
		Find(&out).Error
	return out, err
}
